package handler

import (
	"time"

	"chainpay-gateway/internal/adapter/http/dto"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// defaultProcessBatch caps how many due deliveries one trigger claims.
const defaultProcessBatch = 20

// InternalHandler handles operator-only endpoints.
type InternalHandler struct {
	dispatcher   ports.WebhookDispatcher
	tokenSvc     ports.TokenService
	processBatch int
	log          zerolog.Logger
}

// NewInternalHandler creates a new InternalHandler. processBatch <= 0 falls
// back to the default batch size.
func NewInternalHandler(dispatcher ports.WebhookDispatcher, tokenSvc ports.TokenService, processBatch int, log zerolog.Logger) *InternalHandler {
	if processBatch <= 0 {
		processBatch = defaultProcessBatch
	}
	return &InternalHandler{
		dispatcher:   dispatcher,
		tokenSvc:     tokenSvc,
		processBatch: processBatch,
		log:          log,
	}
}

// ProcessWebhookQueue handles POST /internal/webhooks/process. It runs one
// synchronous pass over the due deliveries and reports how many were claimed.
func (h *InternalHandler) ProcessWebhookQueue(c *gin.Context) {
	start := time.Now()

	processed, err := h.dispatcher.ProcessQueue(c.Request.Context(), h.processBatch)
	if err != nil {
		h.log.Error().Err(err).Msg("webhook queue pass failed")
		response.Error(c, apperror.InternalError(err))
		return
	}

	response.OK(c, dto.ProcessQueueResponse{
		Success:     true,
		Processed:   processed,
		ProcessedAt: start.UTC().Format(time.RFC3339),
		DurationMS:  time.Since(start).Milliseconds(),
	})
}

// IssueToken handles POST /internal/accounts/:id/token, minting a merchant
// API token for the account.
func (h *InternalHandler) IssueToken(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid account id"))
		return
	}

	token, expiry, err := h.tokenSvc.Generate(accountID)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	response.OK(c, dto.IssueTokenResponse{
		Token:  token,
		Expiry: expiry.Unix(),
	})
}
