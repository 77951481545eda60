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

const deliveryColumns = `id, endpoint_id, event_type, resource_id, payload, status, attempts,
		last_attempt_at, next_attempt_at, succeeded_at, response_code, last_error, created_at, updated_at`

// DeliveryRepo implements ports.WebhookDeliveryRepository.
type DeliveryRepo struct {
	pool Pool
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

// CreateUnique inserts a delivery unless one already exists for the same
// (endpoint_id, event_type, resource_id). The uniqueness lives in a database
// constraint, not a check-then-insert, so concurrent producers cannot race
// their way into duplicate notifications. Returns true if a row was created.
func (r *DeliveryRepo) CreateUnique(ctx context.Context, d *domain.WebhookDelivery) (bool, error) {
	query := `INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (endpoint_id, event_type, resource_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		d.ID, d.EndpointID, d.EventType, d.ResourceID, d.Payload, d.Status, d.Attempts,
		d.LastAttemptAt, d.NextAttemptAt, d.SucceededAt, d.ResponseCode, d.LastError,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook delivery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID fetches a delivery by UUID.
func (r *DeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// Update persists the outcome of a delivery attempt.
func (r *DeliveryRepo) Update(ctx context.Context, d *domain.WebhookDelivery) error {
	d.UpdatedAt = time.Now().UTC()
	query := `UPDATE webhook_deliveries
		SET status = $1, attempts = $2, last_attempt_at = $3, next_attempt_at = $4,
			succeeded_at = $5, response_code = $6, last_error = $7, updated_at = $8
		WHERE id = $9`

	tag, err := r.pool.Exec(ctx, query,
		d.Status, d.Attempts, d.LastAttemptAt, d.NextAttemptAt,
		d.SucceededAt, d.ResponseCode, d.LastError, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook delivery not found: %s", d.ID)
	}
	return nil
}

// ClaimDue selects up to limit due deliveries under FOR UPDATE SKIP LOCKED,
// then bumps next_attempt_at to the lease deadline inside the same
// transaction. Concurrent claimants skip each other's locked rows, and the
// lease keeps a claimed row invisible to later polls until its executor has
// written a real outcome.
func (r *DeliveryRepo) ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Time) ([]domain.WebhookDelivery, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE (status = 'PENDING' OR (status = 'FAILED' AND attempts < $1))
			AND next_attempt_at IS NOT NULL AND next_attempt_at <= $2
		ORDER BY next_attempt_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, maxDeliveryAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due deliveries: %w", err)
	}

	var deliveries []domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due deliveries: %w", err)
	}

	if len(deliveries) > 0 {
		ids := make([]uuid.UUID, len(deliveries))
		for i, d := range deliveries {
			ids[i] = d.ID
		}
		if _, err := tx.Exec(ctx,
			`UPDATE webhook_deliveries SET next_attempt_at = $1, updated_at = $2 WHERE id = ANY($3)`,
			lease, now, ids,
		); err != nil {
			return nil, fmt.Errorf("lease claimed deliveries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return deliveries, nil
}

// ListByResource returns all deliveries recorded for a resource, newest first.
func (r *DeliveryRepo) ListByResource(ctx context.Context, resourceID string) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE resource_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries by resource: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return deliveries, nil
}

// maxDeliveryAttempts mirrors the executor's retry ceiling; rows at the
// ceiling are terminal and never claimed again.
const maxDeliveryAttempts = 5

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.EventType, &d.ResourceID, &d.Payload, &d.Status, &d.Attempts,
		&d.LastAttemptAt, &d.NextAttemptAt, &d.SucceededAt, &d.ResponseCode, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan webhook delivery: %w", err)
	}
	return d, nil
}
