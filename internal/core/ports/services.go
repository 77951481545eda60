package ports

import (
	"context"
	"encoding/json"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption of secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification of webhook bodies.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	// BuildSignedPayload constructs the canonical string signed on delivery:
	// "<timestamp>.<body>".
	BuildSignedPayload(timestamp int64, body string) string
}

// TokenService issues and validates the JWTs guarding the merchant-facing
// API. Issuance is reachable only through the internal operator endpoint.
type TokenService interface {
	Generate(accountID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	AccountID uuid.UUID
}

// CircuitBreaker tracks per-endpoint delivery failures across worker
// processes. Implementations must fail open-for-traffic: if the backing
// store is unreachable the breaker reports closed and never blocks delivery.
type CircuitBreaker interface {
	IsOpen(ctx context.Context, endpointID uuid.UUID) bool
	RecordSuccess(ctx context.Context, endpointID uuid.UUID)
	RecordFailure(ctx context.Context, endpointID uuid.UUID)
}

// --- Service Ports (Business Logic) ---

// PaymentService governs the payment-session lifecycle.
type PaymentService interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.PaymentSession, error)
	GetSession(ctx context.Context, accountID, id uuid.UUID) (*domain.PaymentSession, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, req UpdateStatusRequest) (*domain.PaymentSession, error)
	// ExpireStaleSessions fails all PENDING sessions past expiry and queues
	// payment.failed events best-effort. Returns the number of sessions failed.
	ExpireStaleSessions(ctx context.Context) (int, error)
}

// CreateSessionRequest holds validated input for session creation.
type CreateSessionRequest struct {
	AccountID        uuid.UUID
	Amount           string
	Currency         string
	OriginalAmount   *string
	OriginalCurrency *string
	ExchangeRate     *string
	Network          string
	Token            string
	MerchantAddress  string
	Metadata         json.RawMessage
	IdempotencyKey   *string
}

// UpdateStatusRequest holds validated input for a status transition.
type UpdateStatusRequest struct {
	Status          domain.PaymentStatus
	TxHash          *string
	BlockNumber     *int64
	Confirmations   *int
	CustomerAddress *string
}

// WebhookQueue fans a domain event out to every subscribed endpoint,
// idempotently per (endpoint, event type, resource).
type WebhookQueue interface {
	// QueueWebhook returns the number of newly created delivery rows.
	QueueWebhook(ctx context.Context, accountID uuid.UUID, eventType string, data map[string]interface{}) (int, error)
}

// WebhookDispatcher claims and executes queued deliveries.
type WebhookDispatcher interface {
	// DeliverWebhook signs and sends one delivery, updating the row and the
	// circuit breaker. Transport failures are recorded, not returned.
	DeliverWebhook(ctx context.Context, delivery *domain.WebhookDelivery) error
	// ProcessQueue claims up to limit due deliveries and dispatches them
	// concurrently. Returns the number of claimed rows.
	ProcessQueue(ctx context.Context, limit int) (int, error)
}
