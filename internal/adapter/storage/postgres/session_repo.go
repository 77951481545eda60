package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, account_id, amount, currency, original_amount, original_currency, exchange_rate,
		network, token, merchant_address, customer_address, tx_hash, block_number, confirmations,
		status, expires_at, completed_at, metadata, idempotency_key, created_at, updated_at`

// SessionRepo implements ports.PaymentSessionRepository.
type SessionRepo struct {
	pool Pool
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(pool Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// Create inserts a new payment session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.PaymentSession) error {
	query := `INSERT INTO payment_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.AccountID, s.Amount, s.Currency, s.OriginalAmount, s.OriginalCurrency, s.ExchangeRate,
		s.Network, s.Token, s.MerchantAddress, s.CustomerAddress, s.TxHash, s.BlockNumber, s.Confirmations,
		s.Status, s.ExpiresAt, s.CompletedAt, s.Metadata, s.IdempotencyKey, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment session: %w", err)
	}
	return nil
}

// GetByID fetches a session by UUID.
func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches a session by its creation idempotency key.
func (r *SessionRepo) GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE account_id = $1 AND idempotency_key = $2`
	return scanSession(r.pool.QueryRow(ctx, query, accountID, key))
}

// GetByIDForUpdate locks the session row for the duration of tx.
func (r *SessionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1 FOR UPDATE`
	return scanSession(tx.QueryRow(ctx, query, id))
}

// UpdateStatus persists a status transition and its on-chain fields within tx.
func (r *SessionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, s *domain.PaymentSession) error {
	query := `UPDATE payment_sessions
		SET status = $1, customer_address = $2, tx_hash = $3, block_number = $4, confirmations = $5,
			completed_at = $6, updated_at = $7
		WHERE id = $8`

	tag, err := tx.Exec(ctx, query,
		s.Status, s.CustomerAddress, s.TxHash, s.BlockNumber, s.Confirmations,
		s.CompletedAt, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment session not found: %s", s.ID)
	}
	return nil
}

// FailExpiredPending bulk-fails PENDING sessions past expiry. The status
// re-check in the WHERE clause keeps the sweep from clobbering a session
// that transitioned concurrently.
func (r *SessionRepo) FailExpiredPending(ctx context.Context, now time.Time) ([]domain.PaymentSession, error) {
	query := `UPDATE payment_sessions
		SET status = 'FAILED', updated_at = $1
		WHERE status = 'PENDING' AND expires_at < $1
		RETURNING ` + sessionColumns

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("fail expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.PaymentSession
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return sessions, nil
}

// scanSession scans a single row, mapping no-rows to nil.
func scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	s, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func scanSessionRow(row pgx.Row) (*domain.PaymentSession, error) {
	s := &domain.PaymentSession{}
	err := row.Scan(
		&s.ID, &s.AccountID, &s.Amount, &s.Currency, &s.OriginalAmount, &s.OriginalCurrency, &s.ExchangeRate,
		&s.Network, &s.Token, &s.MerchantAddress, &s.CustomerAddress, &s.TxHash, &s.BlockNumber, &s.Confirmations,
		&s.Status, &s.ExpiresAt, &s.CompletedAt, &s.Metadata, &s.IdempotencyKey, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan payment session: %w", err)
	}
	return s, nil
}
