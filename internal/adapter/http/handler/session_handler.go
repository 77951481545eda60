package handler

import (
	"time"

	"chainpay-gateway/internal/adapter/http/dto"
	"chainpay-gateway/internal/adapter/http/middleware"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionHandler handles payment-session endpoints.
type SessionHandler struct {
	paymentSvc   ports.PaymentService
	deliveryRepo ports.WebhookDeliveryRepository
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(paymentSvc ports.PaymentService, deliveryRepo ports.WebhookDeliveryRepository) *SessionHandler {
	return &SessionHandler{paymentSvc: paymentSvc, deliveryRepo: deliveryRepo}
}

// CreateSession handles POST /api/v1/sessions. The Idempotency-Key header
// makes retried creates return the original session.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	svcReq := ports.CreateSessionRequest{
		AccountID:        accountID.(uuid.UUID),
		Amount:           req.Amount,
		Currency:         req.Currency,
		OriginalAmount:   req.OriginalAmount,
		OriginalCurrency: req.OriginalCurrency,
		ExchangeRate:     req.ExchangeRate,
		Network:          req.Network,
		Token:            req.Token,
		MerchantAddress:  req.MerchantAddress,
		Metadata:         req.Metadata,
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		svcReq.IdempotencyKey = &key
	}

	session, err := h.paymentSvc.CreateSession(c.Request.Context(), svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toSessionResponse(session))
}

// GetSession handles GET /api/v1/sessions/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid session id"))
		return
	}

	session, err := h.paymentSvc.GetSession(c.Request.Context(), accountID.(uuid.UUID), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toSessionResponse(session))
}

// UpdateStatus handles PATCH /api/v1/sessions/:id/status.
func (h *SessionHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid session id"))
		return
	}

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	session, err := h.paymentSvc.UpdateStatus(c.Request.Context(), id, ports.UpdateStatusRequest{
		Status:          domain.PaymentStatus(req.Status),
		TxHash:          req.TxHash,
		BlockNumber:     req.BlockNumber,
		Confirmations:   req.Confirmations,
		CustomerAddress: req.CustomerAddress,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toSessionResponse(session))
}

// ListDeliveries handles GET /api/v1/sessions/:id/deliveries. It returns the
// webhook deliveries queued for the session, newest first.
func (h *SessionHandler) ListDeliveries(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid session id"))
		return
	}

	// Ownership check before exposing delivery history.
	if _, err := h.paymentSvc.GetSession(c.Request.Context(), accountID.(uuid.UUID), id); err != nil {
		response.Error(c, err)
		return
	}

	deliveries, err := h.deliveryRepo.ListByResource(c.Request.Context(), id.String())
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}

	out := make([]dto.DeliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		out = append(out, toDeliveryResponse(&deliveries[i]))
	}
	response.OK(c, out)
}

func toSessionResponse(s *domain.PaymentSession) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:               s.ID.String(),
		Amount:           s.Amount,
		Currency:         s.Currency,
		OriginalAmount:   s.OriginalAmount,
		OriginalCurrency: s.OriginalCurrency,
		ExchangeRate:     s.ExchangeRate,
		Network:          s.Network,
		Token:            s.Token,
		MerchantAddress:  s.MerchantAddress,
		CustomerAddress:  s.CustomerAddress,
		TxHash:           s.TxHash,
		BlockNumber:      s.BlockNumber,
		Confirmations:    s.Confirmations,
		Status:           string(s.Status),
		ExpiresAt:        s.ExpiresAt.UTC().Format(time.RFC3339),
		Metadata:         s.Metadata,
		CreatedAt:        s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.CompletedAt != nil {
		v := s.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	return resp
}

func toDeliveryResponse(d *domain.WebhookDelivery) dto.DeliveryResponse {
	resp := dto.DeliveryResponse{
		ID:           d.ID.String(),
		EndpointID:   d.EndpointID.String(),
		EventType:    d.EventType,
		ResourceID:   d.ResourceID,
		Status:       string(d.Status),
		Attempts:     d.Attempts,
		ResponseCode: d.ResponseCode,
		LastError:    d.LastError,
		CreatedAt:    d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.LastAttemptAt != nil {
		v := d.LastAttemptAt.UTC().Format(time.RFC3339)
		resp.LastAttemptAt = &v
	}
	if d.NextAttemptAt != nil {
		v := d.NextAttemptAt.UTC().Format(time.RFC3339)
		resp.NextAttemptAt = &v
	}
	if d.SucceededAt != nil {
		v := d.SucceededAt.UTC().Format(time.RFC3339)
		resp.SucceededAt = &v
	}
	return resp
}
