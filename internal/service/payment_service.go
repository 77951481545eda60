package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// statusEvents maps an accepted session status to the event queued for it.
var statusEvents = map[domain.PaymentStatus]string{
	domain.PaymentStatusPending:    domain.EventPaymentCreated,
	domain.PaymentStatusConfirming: domain.EventPaymentConfirming,
	domain.PaymentStatusCompleted:  domain.EventPaymentCompleted,
	domain.PaymentStatusFailed:     domain.EventPaymentFailed,
	domain.PaymentStatusRefunded:   domain.EventPaymentRefunded,
}

// PaymentServiceImpl implements ports.PaymentService.
type PaymentServiceImpl struct {
	sessionRepo  ports.PaymentSessionRepository
	webhookQueue ports.WebhookQueue
	transactor   ports.DBTransactor
	log          zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	sessionRepo ports.PaymentSessionRepository,
	webhookQueue ports.WebhookQueue,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		sessionRepo:  sessionRepo,
		webhookQueue: webhookQueue,
		transactor:   transactor,
		log:          log,
	}
}

// CreateSession allocates a new PENDING session with a 7-day payment window
// and queues payment.created.
func (s *PaymentServiceImpl) CreateSession(ctx context.Context, req ports.CreateSessionRequest) (*domain.PaymentSession, error) {
	if req.Amount == "" {
		return nil, apperror.ErrInvalidAmount()
	}

	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := s.sessionRepo.GetByIdempotencyKey(ctx, req.AccountID, *req.IdempotencyKey)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("idempotency lookup: %w", err))
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := time.Now().UTC()
	session := &domain.PaymentSession{
		ID:               uuid.New(),
		AccountID:        req.AccountID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		OriginalAmount:   req.OriginalAmount,
		OriginalCurrency: req.OriginalCurrency,
		ExchangeRate:     req.ExchangeRate,
		Network:          req.Network,
		Token:            req.Token,
		MerchantAddress:  req.MerchantAddress,
		Status:           domain.PaymentStatusPending,
		ExpiresAt:        now.Add(domain.SessionExpiry),
		Metadata:         req.Metadata,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create session: %w", err))
	}

	s.queueEvent(ctx, session, domain.EventPaymentCreated, nil)

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("account_id", req.AccountID.String()).
		Str("amount", req.Amount).
		Str("currency", req.Currency).
		Msg("payment session created")

	return session, nil
}

// GetSession fetches a session owned by the account.
func (s *PaymentServiceImpl) GetSession(ctx context.Context, accountID, id uuid.UUID) (*domain.PaymentSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get session: %w", err))
	}
	if session == nil || session.AccountID != accountID {
		return nil, apperror.ErrNotFound("payment session")
	}
	return session, nil
}

// UpdateStatus applies a lifecycle transition under a row-level lock, so the
// state machine never validates against a stale status. Concurrent callers
// applying the same terminal transition serialize; the loser sees the new
// status and takes the idempotent no-op edge.
func (s *PaymentServiceImpl) UpdateStatus(ctx context.Context, id uuid.UUID, req ports.UpdateStatusRequest) (*domain.PaymentSession, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	session, err := s.sessionRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock session: %w", err))
	}
	if session == nil {
		return nil, apperror.ErrNotFound("payment session")
	}

	if err := domain.ValidateTransition(session.Status, req.Status); err != nil {
		var tErr *domain.InvalidTransitionError
		if errors.As(err, &tErr) {
			return nil, apperror.ErrInvalidTransition(string(tErr.From), string(tErr.To))
		}
		return nil, apperror.InternalError(err)
	}

	now := time.Now().UTC()

	// A confirmation arriving after the payment window closed is a failure,
	// not a late success. The window only gates sessions still in flight;
	// a session that confirmed in time stays COMPLETED, and redelivered
	// terminal transitions take the self-transition branch below.
	inFlight := session.Status == domain.PaymentStatusPending ||
		session.Status == domain.PaymentStatusConfirming
	if inFlight &&
		(req.Status == domain.PaymentStatusConfirming || req.Status == domain.PaymentStatusCompleted) &&
		session.IsExpired(now) {
		session.Status = domain.PaymentStatusFailed
		session.UpdatedAt = now
		if err := s.sessionRepo.UpdateStatus(ctx, dbTx, session); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("fail expired session: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}

		s.queueEvent(ctx, session, domain.EventPaymentFailed, map[string]interface{}{
			"expired": true,
			"reason":  "payment session expired before confirmation",
		})

		s.log.Warn().
			Str("session_id", session.ID.String()).
			Str("requested_status", string(req.Status)).
			Msg("stale confirmation on expired session, forced to FAILED")

		return nil, apperror.ErrSessionExpired()
	}

	session.Status = req.Status
	if req.CustomerAddress != nil {
		session.CustomerAddress = *req.CustomerAddress
	}
	if req.TxHash != nil {
		session.TxHash = req.TxHash
	}
	if req.BlockNumber != nil {
		session.BlockNumber = req.BlockNumber
	}
	if req.Confirmations != nil {
		session.Confirmations = *req.Confirmations
	}
	if req.Status == domain.PaymentStatusCompleted {
		session.CompletedAt = &now
	}
	session.UpdatedAt = now

	if err := s.sessionRepo.UpdateStatus(ctx, dbTx, session); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update session: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.queueEvent(ctx, session, statusEvents[req.Status], nil)

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("status", string(session.Status)).
		Msg("payment session status updated")

	return session, nil
}

// ExpireStaleSessions fails every PENDING session past its expiry and queues
// payment.failed per session. Webhook-queueing problems are logged and never
// undo the status change or stop the sweep.
func (s *PaymentServiceImpl) ExpireStaleSessions(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := s.sessionRepo.FailExpiredPending(ctx, now)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("expire sessions: %w", err))
	}

	for i := range expired {
		session := &expired[i]
		session.Status = domain.PaymentStatusFailed
		s.queueEvent(ctx, session, domain.EventPaymentFailed, map[string]interface{}{
			"expired": true,
			"reason":  "payment session expired",
		})
	}

	if len(expired) > 0 {
		s.log.Info().Int("count", len(expired)).Msg("expired stale payment sessions")
	}
	return len(expired), nil
}

// queueEvent fans a session event out to subscribers, best-effort. The
// delivery queue is the durable leg; losing an enqueue here is logged loudly
// but does not roll back the committed transition.
func (s *PaymentServiceImpl) queueEvent(ctx context.Context, session *domain.PaymentSession, eventType string, extra map[string]interface{}) {
	data := map[string]interface{}{
		"payment_id":    session.ID.String(),
		"status":        string(session.Status),
		"amount":        session.Amount,
		"currency":      session.Currency,
		"network":       session.Network,
		"token":         session.Token,
		"confirmations": session.Confirmations,
		"expires_at":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if session.TxHash != nil {
		data["tx_hash"] = *session.TxHash
	}
	if session.CompletedAt != nil {
		data["completed_at"] = session.CompletedAt.UTC().Format(time.RFC3339)
	}
	for k, v := range extra {
		data[k] = v
	}

	if _, err := s.webhookQueue.QueueWebhook(ctx, session.AccountID, eventType, data); err != nil {
		s.log.Error().Err(err).
			Str("session_id", session.ID.String()).
			Str("event_type", eventType).
			Msg("failed to queue webhook for session event")
	}
}
