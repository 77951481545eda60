package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- In-Memory Session Repo ---

type inMemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.PaymentSession
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{sessions: make(map[uuid.UUID]*domain.PaymentSession)}
}

func (r *inMemorySessionRepo) Create(ctx context.Context, s *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *inMemorySessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySessionRepo) GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.AccountID == accountID && s.IdempotencyKey != nil && *s.IdempotencyKey == key {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemorySessionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentSession, error) {
	// Row locking is emulated by the serializing transactor.
	return r.GetByID(ctx, id)
}

func (r *inMemorySessionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, s *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return fmt.Errorf("session not found")
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *inMemorySessionRepo) FailExpiredPending(ctx context.Context, now time.Time) ([]domain.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []domain.PaymentSession
	for _, s := range r.sessions {
		if s.Status == domain.PaymentStatusPending && now.After(s.ExpiresAt) {
			s.Status = domain.PaymentStatusFailed
			s.UpdatedAt = now
			failed = append(failed, *s)
		}
	}
	return failed, nil
}

// --- In-Memory Endpoint Repo ---

type inMemoryEndpointRepo struct {
	mu        sync.RWMutex
	endpoints map[uuid.UUID]*domain.WebhookEndpoint
}

func newInMemoryEndpointRepo() *inMemoryEndpointRepo {
	return &inMemoryEndpointRepo{endpoints: make(map[uuid.UUID]*domain.WebhookEndpoint)}
}

func (r *inMemoryEndpointRepo) add(ep *domain.WebhookEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ep
	r.endpoints[ep.ID] = &cp
}

func (r *inMemoryEndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *ep
	return &cp, nil
}

func (r *inMemoryEndpointRepo) ListSubscribed(ctx context.Context, accountID uuid.UUID, eventType string) ([]domain.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookEndpoint
	for _, ep := range r.endpoints {
		if ep.AccountID == accountID && ep.Enabled && ep.SubscribesTo(eventType) {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// --- In-Memory Delivery Repo ---

type inMemoryDeliveryRepo struct {
	mu         sync.RWMutex
	deliveries map[uuid.UUID]*domain.WebhookDelivery
	index      map[string]uuid.UUID // endpoint|event|resource -> row id
}

func newInMemoryDeliveryRepo() *inMemoryDeliveryRepo {
	return &inMemoryDeliveryRepo{
		deliveries: make(map[uuid.UUID]*domain.WebhookDelivery),
		index:      make(map[string]uuid.UUID),
	}
}

func dedupKey(d *domain.WebhookDelivery) string {
	return d.EndpointID.String() + "|" + d.EventType + "|" + d.ResourceID
}

func (r *inMemoryDeliveryRepo) CreateUnique(ctx context.Context, d *domain.WebhookDelivery) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := dedupKey(d)
	if _, exists := r.index[key]; exists {
		return false, nil
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	r.index[key] = d.ID
	return true, nil
}

func (r *inMemoryDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *inMemoryDeliveryRepo) Update(ctx context.Context, d *domain.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deliveries[d.ID]; !ok {
		return fmt.Errorf("delivery not found")
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

// ClaimDue mirrors the SKIP LOCKED claim: due rows are selected and leased in
// one critical section, so concurrent claimants never share a row.
func (r *inMemoryDeliveryRepo) ClaimDue(ctx context.Context, limit int, now, lease time.Time) ([]domain.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*domain.WebhookDelivery
	for _, d := range r.deliveries {
		retryable := d.Status == domain.WebhookDeliveryStatusPending ||
			(d.Status == domain.WebhookDeliveryStatusFailed && d.Attempts < 5)
		if retryable && d.NextAttemptAt != nil && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]domain.WebhookDelivery, 0, len(due))
	for _, d := range due {
		l := lease
		d.NextAttemptAt = &l
		out = append(out, *d)
	}
	return out, nil
}

func (r *inMemoryDeliveryRepo) ListByResource(ctx context.Context, resourceID string) ([]domain.WebhookDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookDelivery
	for _, d := range r.deliveries {
		if d.ResourceID == resourceID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Serializing Transactor ---

// inMemoryTransactor emulates pessimistic row locking with one big lock:
// a transaction holds it from Begin until Commit or Rollback.
type inMemoryTransactor struct {
	mu sync.Mutex
}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	return &lockTx{release: &t.mu}, nil
}

// lockTx is a pgx.Tx that releases the transactor lock exactly once.
type lockTx struct {
	release *sync.Mutex
	once    sync.Once
}

func (t *lockTx) done() {
	t.once.Do(func() { t.release.Unlock() })
}

func (t *lockTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *lockTx) Commit(ctx context.Context) error          { t.done(); return nil }
func (t *lockTx) Rollback(ctx context.Context) error        { t.done(); return nil }
func (t *lockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *lockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *lockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *lockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *lockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *lockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *lockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *lockTx) Conn() *pgx.Conn { return nil }
