package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func allStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusConfirming,
		PaymentStatusCompleted,
		PaymentStatusFailed,
		PaymentStatusRefunded,
	}
}

func TestValidateTransition_AllowedEdges(t *testing.T) {
	allowed := []struct {
		from, to PaymentStatus
	}{
		{PaymentStatusPending, PaymentStatusConfirming},
		{PaymentStatusPending, PaymentStatusFailed},
		{PaymentStatusConfirming, PaymentStatusCompleted},
		{PaymentStatusConfirming, PaymentStatusFailed},
		{PaymentStatusCompleted, PaymentStatusRefunded},
	}

	for _, tt := range allowed {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.NoError(t, ValidateTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransition_SameStateIsNoOp(t *testing.T) {
	for _, s := range allStatuses() {
		t.Run(string(s), func(t *testing.T) {
			assert.NoError(t, ValidateTransition(s, s))
		})
	}
}

func TestValidateTransition_RejectsEverythingElse(t *testing.T) {
	allowed := map[PaymentStatus]map[PaymentStatus]bool{
		PaymentStatusPending:    {PaymentStatusConfirming: true, PaymentStatusFailed: true},
		PaymentStatusConfirming: {PaymentStatusCompleted: true, PaymentStatusFailed: true},
		PaymentStatusCompleted:  {PaymentStatusRefunded: true},
	}

	for _, from := range allStatuses() {
		for _, to := range allStatuses() {
			if from == to || allowed[from][to] {
				continue
			}
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				err := ValidateTransition(from, to)
				assert.Error(t, err)

				var tErr *InvalidTransitionError
				assert.ErrorAs(t, err, &tErr)
				assert.Equal(t, from, tErr.From)
				assert.Equal(t, to, tErr.To)
			})
		}
	}
}

func TestValidateTransition_TerminalStatesAreSinks(t *testing.T) {
	// FAILED and REFUNDED allow nothing but themselves; COMPLETED only REFUNDED.
	for _, to := range allStatuses() {
		if to != PaymentStatusFailed {
			assert.Error(t, ValidateTransition(PaymentStatusFailed, to), "FAILED -> %s", to)
		}
		if to != PaymentStatusRefunded {
			assert.Error(t, ValidateTransition(PaymentStatusRefunded, to), "REFUNDED -> %s", to)
		}
	}
	assert.Error(t, ValidateTransition(PaymentStatusCompleted, PaymentStatusPending))
	assert.Error(t, ValidateTransition(PaymentStatusCompleted, PaymentStatusConfirming))
	assert.Error(t, ValidateTransition(PaymentStatusCompleted, PaymentStatusFailed))
}

func TestInvalidTransitionError_Message(t *testing.T) {
	err := ValidateTransition(PaymentStatusPending, PaymentStatusCompleted)
	assert.EqualError(t, err, "invalid status transition from PENDING to COMPLETED")
}

func TestPaymentSession_IsTerminal(t *testing.T) {
	tests := []struct {
		status   PaymentStatus
		terminal bool
	}{
		{PaymentStatusPending, false},
		{PaymentStatusConfirming, false},
		{PaymentStatusCompleted, true},
		{PaymentStatusFailed, true},
		{PaymentStatusRefunded, true},
	}
	for _, tt := range tests {
		s := &PaymentSession{Status: tt.status}
		assert.Equal(t, tt.terminal, s.IsTerminal(), "status %s", tt.status)
	}
}

func TestPaymentSession_IsExpired(t *testing.T) {
	now := time.Now()
	s := &PaymentSession{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(2*time.Hour)))
}

func TestWebhookEndpoint_SubscribesTo(t *testing.T) {
	e := &WebhookEndpoint{EventTypes: []string{EventPaymentCompleted, EventPaymentFailed}}
	assert.True(t, e.SubscribesTo(EventPaymentCompleted))
	assert.False(t, e.SubscribesTo(EventRefundCompleted))
}

func TestWebhookDelivery_IsRetryable(t *testing.T) {
	next := time.Now()

	pending := &WebhookDelivery{Status: WebhookDeliveryStatusPending}
	assert.True(t, pending.IsRetryable(5))

	retrying := &WebhookDelivery{Status: WebhookDeliveryStatusFailed, Attempts: 3, NextAttemptAt: &next}
	assert.True(t, retrying.IsRetryable(5))

	exhausted := &WebhookDelivery{Status: WebhookDeliveryStatusFailed, Attempts: 5}
	assert.False(t, exhausted.IsRetryable(5))

	succeeded := &WebhookDelivery{Status: WebhookDeliveryStatusSucceeded}
	assert.False(t, succeeded.IsRetryable(5))
}
