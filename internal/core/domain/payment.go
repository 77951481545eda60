package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the lifecycle state of a payment session.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusConfirming PaymentStatus = "CONFIRMING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// SessionExpiry is how long a new session stays payable before the
// expiration sweep fails it.
const SessionExpiry = 7 * 24 * time.Hour

// PaymentSession represents one payment request and its on-chain progress.
type PaymentSession struct {
	ID               uuid.UUID       `json:"id"`
	AccountID        uuid.UUID       `json:"account_id"`
	Amount           string          `json:"amount"` // Decimal string in token units
	Currency         string          `json:"currency"`
	OriginalAmount   *string         `json:"original_amount,omitempty"`
	OriginalCurrency *string         `json:"original_currency,omitempty"`
	ExchangeRate     *string         `json:"exchange_rate,omitempty"`
	Network          string          `json:"network"`
	Token            string          `json:"token"`
	MerchantAddress  string          `json:"merchant_address"`
	CustomerAddress  string          `json:"customer_address,omitempty"`
	TxHash           *string         `json:"tx_hash,omitempty"`
	BlockNumber      *int64          `json:"block_number,omitempty"`
	Confirmations    int             `json:"confirmations"`
	Status           PaymentStatus   `json:"status"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	IdempotencyKey   *string         `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsTerminal returns true if the session is in a final state.
func (s *PaymentSession) IsTerminal() bool {
	return s.Status == PaymentStatusCompleted ||
		s.Status == PaymentStatusFailed ||
		s.Status == PaymentStatusRefunded
}

// IsExpired returns true if the session's payment window has passed.
func (s *PaymentSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// InvalidTransitionError identifies a rejected status edge.
type InvalidTransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// allowedTransitions is the full edge table of the payment state machine.
// Self-transitions are handled in ValidateTransition; they are legal no-ops
// so racing writers applying the same terminal transition both succeed.
var allowedTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentStatusPending: {
		PaymentStatusConfirming: true,
		PaymentStatusFailed:     true,
	},
	PaymentStatusConfirming: {
		PaymentStatusCompleted: true,
		PaymentStatusFailed:    true,
	},
	PaymentStatusCompleted: {
		PaymentStatusRefunded: true,
	},
	PaymentStatusFailed:   {},
	PaymentStatusRefunded: {},
}

// ValidateTransition reports whether a session may move from current to
// requested. It is a pure function over the edge table above.
func ValidateTransition(current, requested PaymentStatus) error {
	if current == requested {
		return nil
	}
	if allowedTransitions[current][requested] {
		return nil
	}
	return &InvalidTransitionError{From: current, To: requested}
}
