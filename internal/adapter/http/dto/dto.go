package dto

import "encoding/json"

// CreateSessionRequest is the request body for opening a payment session.
type CreateSessionRequest struct {
	Amount           string          `json:"amount" binding:"required,amount"`
	Currency         string          `json:"currency" binding:"required,min=2,max=10"`
	OriginalAmount   *string         `json:"original_amount,omitempty" binding:"omitempty,amount"`
	OriginalCurrency *string         `json:"original_currency,omitempty" binding:"omitempty,min=2,max=10"`
	ExchangeRate     *string         `json:"exchange_rate,omitempty" binding:"omitempty,amount"`
	Network          string          `json:"network" binding:"required,safe_id"`
	Token            string          `json:"token" binding:"required,safe_id"`
	MerchantAddress  string          `json:"merchant_address" binding:"required,max=128"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// UpdateStatusRequest is the request body for a session status transition.
type UpdateStatusRequest struct {
	Status          string  `json:"status" binding:"required,oneof=PENDING CONFIRMING COMPLETED FAILED REFUNDED"`
	TxHash          *string `json:"tx_hash,omitempty" binding:"omitempty,max=128"`
	BlockNumber     *int64  `json:"block_number,omitempty" binding:"omitempty,gte=0"`
	Confirmations   *int    `json:"confirmations,omitempty" binding:"omitempty,gte=0"`
	CustomerAddress *string `json:"customer_address,omitempty" binding:"omitempty,max=128"`
}

// SessionResponse is the response body for payment session queries.
type SessionResponse struct {
	ID               string          `json:"id"`
	Amount           string          `json:"amount"`
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
	Status           string          `json:"status"`
	ExpiresAt        string          `json:"expires_at"`
	CompletedAt      *string         `json:"completed_at,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

// DeliveryResponse is the response body for webhook delivery queries.
type DeliveryResponse struct {
	ID            string  `json:"id"`
	EndpointID    string  `json:"endpoint_id"`
	EventType     string  `json:"event_type"`
	ResourceID    string  `json:"resource_id"`
	Status        string  `json:"status"`
	Attempts      int     `json:"attempts"`
	ResponseCode  *int    `json:"response_code,omitempty"`
	LastError     *string `json:"last_error,omitempty"`
	LastAttemptAt *string `json:"last_attempt_at,omitempty"`
	NextAttemptAt *string `json:"next_attempt_at,omitempty"`
	SucceededAt   *string `json:"succeeded_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// ProcessQueueResponse is the response body of the internal queue trigger.
type ProcessQueueResponse struct {
	Success     bool   `json:"success"`
	Processed   int    `json:"processed"`
	ProcessedAt string `json:"processed_at"`
	DurationMS  int64  `json:"duration_ms"`
}

// IssueTokenResponse is the response body of internal token issuance.
type IssueTokenResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}
