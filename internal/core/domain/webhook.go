package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webhook event types.
const (
	EventPaymentCreated    = "payment.created"
	EventPaymentConfirming = "payment.confirming"
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRefunded   = "payment.refunded"
	EventRefundCreated     = "refund.created"
	EventRefundProcessing  = "refund.processing"
	EventRefundCompleted   = "refund.completed"
	EventRefundFailed      = "refund.failed"
)

// WebhookEndpoint is a subscriber registration owned by an account.
// Created and edited through the account API; this core only reads it.
type WebhookEndpoint struct {
	ID         uuid.UUID `json:"id"`
	AccountID  uuid.UUID `json:"account_id"`
	URL        string    `json:"url"`
	SecretEnc  string    `json:"-"` // AES-256-GCM encrypted signing secret
	EventTypes []string  `json:"event_types"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SubscribesTo returns true if the endpoint is subscribed to eventType.
func (e *WebhookEndpoint) SubscribesTo(eventType string) bool {
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// WebhookDeliveryStatus represents the delivery state of one webhook.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusPending   WebhookDeliveryStatus = "PENDING"
	WebhookDeliveryStatusSucceeded WebhookDeliveryStatus = "SUCCEEDED"
	WebhookDeliveryStatusFailed    WebhookDeliveryStatus = "FAILED"
)

// WebhookDelivery is the attempt record for delivering one event to one
// endpoint. The triple (EndpointID, EventType, ResourceID) is unique; the
// database constraint on it is what makes event fan-out idempotent.
type WebhookDelivery struct {
	ID            uuid.UUID             `json:"id"`
	EndpointID    uuid.UUID             `json:"endpoint_id"`
	EventType     string                `json:"event_type"`
	ResourceID    string                `json:"resource_id"`
	Payload       json.RawMessage       `json:"payload"`
	Status        WebhookDeliveryStatus `json:"status"`
	Attempts      int                   `json:"attempts"`
	LastAttemptAt *time.Time            `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time            `json:"next_attempt_at,omitempty"`
	SucceededAt   *time.Time            `json:"succeeded_at,omitempty"`
	ResponseCode  *int                  `json:"response_code,omitempty"`
	LastError     *string               `json:"last_error,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// IsRetryable reports whether the delivery may still be attempted.
func (d *WebhookDelivery) IsRetryable(maxAttempts int) bool {
	if d.Status == WebhookDeliveryStatusSucceeded {
		return false
	}
	return d.Attempts < maxAttempts && (d.Status == WebhookDeliveryStatusPending || d.NextAttemptAt != nil)
}
