package postgres

import (
	"context"
	"errors"
	"fmt"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const endpointColumns = `id, account_id, url, secret_enc, event_types, enabled, created_at, updated_at`

// EndpointRepo implements ports.WebhookEndpointRepository. Endpoint rows are
// written by the account API; this core reads them when fanning out events.
type EndpointRepo struct {
	pool Pool
}

// NewEndpointRepo creates a new EndpointRepo.
func NewEndpointRepo(pool Pool) *EndpointRepo {
	return &EndpointRepo{pool: pool}
}

// GetByID fetches an endpoint by UUID.
func (r *EndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`

	e, err := scanEndpoint(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListSubscribed returns enabled endpoints of an account subscribed to eventType.
func (r *EndpointRepo) ListSubscribed(ctx context.Context, accountID uuid.UUID, eventType string) ([]domain.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints
		WHERE account_id = $1 AND enabled = true AND $2 = ANY(event_types)
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, accountID, eventType)
	if err != nil {
		return nil, fmt.Errorf("list subscribed endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.WebhookEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoints: %w", err)
	}
	return endpoints, nil
}

func scanEndpoint(row pgx.Row) (*domain.WebhookEndpoint, error) {
	e := &domain.WebhookEndpoint{}
	err := row.Scan(
		&e.ID, &e.AccountID, &e.URL, &e.SecretEnc, &e.EventTypes, &e.Enabled,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan webhook endpoint: %w", err)
	}
	return e, nil
}
