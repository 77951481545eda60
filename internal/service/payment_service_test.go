package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/internal/core/ports/mocks"
	"chainpay-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type paymentTestDeps struct {
	svc         *PaymentServiceImpl
	sessionRepo *mocks.MockPaymentSessionRepository
	queue       *mocks.MockWebhookQueue
	transactor  *mocks.MockDBTransactor
	ctrl        *gomock.Controller
}

func setupPaymentService(t *testing.T) *paymentTestDeps {
	ctrl := gomock.NewController(t)
	d := &paymentTestDeps{
		sessionRepo: mocks.NewMockPaymentSessionRepository(ctrl),
		queue:       mocks.NewMockWebhookQueue(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewPaymentService(d.sessionRepo, d.queue, d.transactor, zerolog.Nop())
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// ==================== CreateSession Tests ====================

func TestPaymentService_CreateSession_Success(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	req := ports.CreateSessionRequest{
		AccountID:       accountID,
		Amount:          "250.00",
		Currency:        "USDC",
		Network:         "ethereum",
		Token:           "USDC",
		MerchantAddress: "0xabc123",
	}

	var created *domain.PaymentSession
	d.sessionRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, s *domain.PaymentSession) error {
			created = s
			return nil
		})
	d.queue.EXPECT().QueueWebhook(ctx, accountID, domain.EventPaymentCreated, gomock.Any()).Return(1, nil)

	session, err := d.svc.CreateSession(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, domain.PaymentStatusPending, session.Status)
	assert.Equal(t, accountID, session.AccountID)
	assert.Equal(t, "250.00", session.Amount)
	assert.Nil(t, session.CompletedAt)
	assert.Same(t, created, session)

	// Payment window is seven days out.
	window := session.ExpiresAt.Sub(session.CreatedAt)
	assert.Equal(t, domain.SessionExpiry, window)
}

func TestPaymentService_CreateSession_IdempotencyKeyReplays(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	key := "idem-abc-001"
	existing := &domain.PaymentSession{
		ID:        uuid.New(),
		AccountID: accountID,
		Status:    domain.PaymentStatusPending,
	}

	// Replay returns the original session; no insert, no event.
	d.sessionRepo.EXPECT().GetByIdempotencyKey(ctx, accountID, key).Return(existing, nil)

	session, err := d.svc.CreateSession(ctx, ports.CreateSessionRequest{
		AccountID:      accountID,
		Amount:         "10.00",
		Currency:       "USDT",
		IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.Same(t, existing, session)
}

func TestPaymentService_CreateSession_EmptyAmount(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.CreateSession(context.Background(), ports.CreateSessionRequest{
		AccountID: uuid.New(),
		Currency:  "USDC",
	})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_004", appErr.Code)
}

func TestPaymentService_CreateSession_QueueFailureDoesNotFailCreate(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	d.sessionRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.queue.EXPECT().QueueWebhook(ctx, accountID, domain.EventPaymentCreated, gomock.Any()).
		Return(0, errors.New("queue unavailable"))

	session, err := d.svc.CreateSession(ctx, ports.CreateSessionRequest{
		AccountID: accountID,
		Amount:    "5.00",
		Currency:  "USDC",
	})
	require.NoError(t, err)
	assert.NotNil(t, session)
}

// ==================== GetSession Tests ====================

func TestPaymentService_GetSession_Success(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	id := uuid.New()
	stored := &domain.PaymentSession{ID: id, AccountID: accountID}

	d.sessionRepo.EXPECT().GetByID(ctx, id).Return(stored, nil)

	session, err := d.svc.GetSession(ctx, accountID, id)
	require.NoError(t, err)
	assert.Same(t, stored, session)
}

func TestPaymentService_GetSession_WrongAccount(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()

	d.sessionRepo.EXPECT().GetByID(ctx, id).Return(&domain.PaymentSession{
		ID:        id,
		AccountID: uuid.New(),
	}, nil)

	_, err := d.svc.GetSession(ctx, uuid.New(), id)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_003", appErr.Code)
}

func TestPaymentService_GetSession_NotFound(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.sessionRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, err := d.svc.GetSession(ctx, uuid.New(), id)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_003", appErr.Code)
}

// ==================== UpdateStatus Tests ====================

func TestPaymentService_UpdateStatus_ConfirmingToCompleted(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	accountID := uuid.New()
	tx := &mockTx{}
	txHash := "0xdeadbeef"

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.sessionRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(&domain.PaymentSession{
		ID:        id,
		AccountID: accountID,
		Status:    domain.PaymentStatusConfirming,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	d.sessionRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any()).Return(nil)
	d.queue.EXPECT().QueueWebhook(ctx, accountID, domain.EventPaymentCompleted, gomock.Any()).Return(1, nil)

	session, err := d.svc.UpdateStatus(ctx, id, ports.UpdateStatusRequest{
		Status: domain.PaymentStatusCompleted,
		TxHash: &txHash,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, session.Status)
	require.NotNil(t, session.CompletedAt)
	require.NotNil(t, session.TxHash)
	assert.Equal(t, txHash, *session.TxHash)
}

func TestPaymentService_UpdateStatus_InvalidTransition(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.sessionRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(&domain.PaymentSession{
		ID:        id,
		Status:    domain.PaymentStatusPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)

	_, err := d.svc.UpdateStatus(ctx, id, ports.UpdateStatusRequest{
		Status: domain.PaymentStatusRefunded,
	})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_001", appErr.Code)
}

func TestPaymentService_UpdateStatus_CompletedToCompletedRefreshesCompletedAt(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	accountID := uuid.New()
	tx := &mockTx{}
	earlier := time.Now().Add(-time.Hour)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.sessionRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(&domain.PaymentSession{
		ID:          id,
		AccountID:   accountID,
		Status:      domain.PaymentStatusCompleted,
		ExpiresAt:   time.Now().Add(time.Hour),
		CompletedAt: &earlier,
	}, nil)
	d.sessionRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any()).Return(nil)
	d.queue.EXPECT().QueueWebhook(ctx, accountID, domain.EventPaymentCompleted, gomock.Any()).Return(0, nil)

	session, err := d.svc.UpdateStatus(ctx, id, ports.UpdateStatusRequest{
		Status: domain.PaymentStatusCompleted,
	})
	require.NoError(t, err)
	require.NotNil(t, session.CompletedAt)
	assert.True(t, session.CompletedAt.After(earlier))
}

func TestPaymentService_UpdateStatus_CompletedSessionSurvivesWindowEnd(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	accountID := uuid.New()
	tx := &mockTx{}
	completedAt := time.Now().Add(-8 * 24 * time.Hour)

	// The session confirmed inside its window; the window closing afterwards
	// means nothing. A redelivered COMPLETED must stay the no-op edge, never
	// a forced FAILED.
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.sessionRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(&domain.PaymentSession{
		ID:          id,
		AccountID:   accountID,
		Status:      domain.PaymentStatusCompleted,
		ExpiresAt:   time.Now().Add(-24 * time.Hour),
		CompletedAt: &completedAt,
	}, nil)

	var persisted *domain.PaymentSession
	d.sessionRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, s *domain.PaymentSession) error {
			persisted = s
			return nil
		})
	d.queue.EXPECT().QueueWebhook(ctx, accountID, domain.EventPaymentCompleted, gomock.Any()).Return(0, nil)

	session, err := d.svc.UpdateStatus(ctx, id, ports.UpdateStatusRequest{
		Status: domain.PaymentStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, session.Status)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.PaymentStatusCompleted, persisted.Status)
}

func TestPaymentService_UpdateStatus_CompletedToRefunded(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	accountID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.sessionRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(&domain.PaymentSession{
		ID:        id,
		AccountID: accountID,
		Status:    domain.PaymentStatusCompleted,
		ExpiresAt: time.Now().Add(-time.Hour),
	}, nil)
	d.sessionRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any()).Return(nil)
	d.queue.EXPECT().QueueWebhook(ctx, accountID, domain.EventPaymentRefunded, gomock.Any()).Return(1, nil)

	// Refunds are not gated on the payment window.
	session, err := d.svc.UpdateStatus(ctx, id, ports.UpdateStatusRequest{
		Status: domain.PaymentStatusRefunded,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, session.Status)
}

func TestPaymentService_UpdateStatus_ExpiredSessionForcedToFailed(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	accountID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.sessionRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(&domain.PaymentSession{
		ID:        id,
		AccountID: accountID,
		Status:    domain.PaymentStatusPending,
		ExpiresAt: time.Now().Add(-time.Minute),
	}, nil)

	var persisted *domain.PaymentSession
	d.sessionRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, s *domain.PaymentSession) error {
			persisted = s
			return nil
		})
	d.queue.EXPECT().QueueWebhook(ctx, accountID, domain.EventPaymentFailed, gomock.Any()).Return(1, nil)

	_, err := d.svc.UpdateStatus(ctx, id, ports.UpdateStatusRequest{
		Status: domain.PaymentStatusConfirming,
	})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_002", appErr.Code)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.PaymentStatusFailed, persisted.Status)
}

func TestPaymentService_UpdateStatus_NotFound(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.sessionRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(nil, nil)

	_, err := d.svc.UpdateStatus(ctx, id, ports.UpdateStatusRequest{
		Status: domain.PaymentStatusConfirming,
	})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_003", appErr.Code)
}

// ==================== ExpireStaleSessions Tests ====================

func TestPaymentService_ExpireStaleSessions_QueuesFailurePerSession(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountA := uuid.New()
	accountB := uuid.New()

	d.sessionRepo.EXPECT().FailExpiredPending(ctx, gomock.Any()).Return([]domain.PaymentSession{
		{ID: uuid.New(), AccountID: accountA, Status: domain.PaymentStatusFailed},
		{ID: uuid.New(), AccountID: accountB, Status: domain.PaymentStatusFailed},
	}, nil)
	d.queue.EXPECT().QueueWebhook(ctx, accountA, domain.EventPaymentFailed, gomock.Any()).Return(1, nil)
	d.queue.EXPECT().QueueWebhook(ctx, accountB, domain.EventPaymentFailed, gomock.Any()).Return(1, nil)

	count, err := d.svc.ExpireStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPaymentService_ExpireStaleSessions_QueueErrorDoesNotStopSweep(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountA := uuid.New()
	accountB := uuid.New()

	d.sessionRepo.EXPECT().FailExpiredPending(ctx, gomock.Any()).Return([]domain.PaymentSession{
		{ID: uuid.New(), AccountID: accountA, Status: domain.PaymentStatusFailed},
		{ID: uuid.New(), AccountID: accountB, Status: domain.PaymentStatusFailed},
	}, nil)
	d.queue.EXPECT().QueueWebhook(ctx, accountA, domain.EventPaymentFailed, gomock.Any()).
		Return(0, errors.New("queue down"))
	d.queue.EXPECT().QueueWebhook(ctx, accountB, domain.EventPaymentFailed, gomock.Any()).Return(1, nil)

	count, err := d.svc.ExpireStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPaymentService_ExpireStaleSessions_Empty(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.sessionRepo.EXPECT().FailExpiredPending(ctx, gomock.Any()).Return(nil, nil)

	count, err := d.svc.ExpireStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
