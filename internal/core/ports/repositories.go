package ports

import (
	"context"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentSessionRepository defines persistence operations for payment sessions.
// Methods accepting pgx.Tx run inside transaction blocks for pessimistic locking.
type PaymentSessionRepository interface {
	Create(ctx context.Context, session *domain.PaymentSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentSession, error)
	GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*domain.PaymentSession, error)
	// GetByIDForUpdate locks the session row so the caller's status read
	// cannot go stale under a concurrent writer.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentSession, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, session *domain.PaymentSession) error
	// FailExpiredPending flips all PENDING sessions past their expiry to
	// FAILED, re-checking status at update time, and returns the affected
	// sessions.
	FailExpiredPending(ctx context.Context, now time.Time) ([]domain.PaymentSession, error)
}

// WebhookEndpointRepository defines read access to subscriber registrations.
type WebhookEndpointRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error)
	// ListSubscribed returns the enabled endpoints owned by accountID that
	// subscribe to eventType.
	ListSubscribed(ctx context.Context, accountID uuid.UUID, eventType string) ([]domain.WebhookEndpoint, error)
}

// WebhookDeliveryRepository defines persistence for the delivery queue.
type WebhookDeliveryRepository interface {
	// CreateUnique inserts the delivery unless a row with the same
	// (endpoint_id, event_type, resource_id) already exists. Returns true if
	// a row was created, false if it was a duplicate.
	CreateUnique(ctx context.Context, delivery *domain.WebhookDelivery) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error)
	Update(ctx context.Context, delivery *domain.WebhookDelivery) error
	// ClaimDue selects up to limit due deliveries such that no two concurrent
	// claimants receive the same row, and leases them until lease.
	ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Time) ([]domain.WebhookDelivery, error)
	ListByResource(ctx context.Context, resourceID string) ([]domain.WebhookDelivery, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
