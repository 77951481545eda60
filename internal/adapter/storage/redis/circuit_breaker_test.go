package redis

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreaker(t *testing.T) (*CircuitBreakerStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	return NewCircuitBreakerStore(client, zerolog.Nop()), s
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	breaker, _ := newBreaker(t)
	assert.False(t, breaker.IsOpen(context.Background(), uuid.New()))
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	breaker, _ := newBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	for i := 0; i < defaultFailureThreshold-1; i++ {
		breaker.RecordFailure(ctx, endpointID)
		assert.False(t, breaker.IsOpen(ctx, endpointID), "closed after %d failures", i+1)
	}

	breaker.RecordFailure(ctx, endpointID)
	assert.True(t, breaker.IsOpen(ctx, endpointID), "open after %d failures", defaultFailureThreshold)
}

func TestCircuitBreaker_PerEndpointIsolation(t *testing.T) {
	breaker, _ := newBreaker(t)
	ctx := context.Background()
	failing := uuid.New()
	healthy := uuid.New()

	for i := 0; i < defaultFailureThreshold; i++ {
		breaker.RecordFailure(ctx, failing)
	}

	assert.True(t, breaker.IsOpen(ctx, failing))
	assert.False(t, breaker.IsOpen(ctx, healthy))
}

func TestCircuitBreaker_SuccessClearsState(t *testing.T) {
	breaker, mr := newBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	for i := 0; i < defaultFailureThreshold; i++ {
		breaker.RecordFailure(ctx, endpointID)
	}
	require.True(t, breaker.IsOpen(ctx, endpointID))

	breaker.RecordSuccess(ctx, endpointID)
	assert.False(t, breaker.IsOpen(ctx, endpointID))
	assert.False(t, mr.Exists(failureKeyPrefix+endpointID.String()))
	assert.False(t, mr.Exists(openKeyPrefix+endpointID.String()))
}

func TestCircuitBreaker_SelfHealsAfterCooldown(t *testing.T) {
	breaker, mr := newBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	// Plant an open marker older than the cooldown.
	staleOpen := time.Now().Add(-defaultOpenCooldown - time.Minute).Unix()
	require.NoError(t, mr.Set(openKeyPrefix+endpointID.String(), strconv.FormatInt(staleOpen, 10)))
	require.NoError(t, mr.Set(failureKeyPrefix+endpointID.String(), "10"))

	assert.False(t, breaker.IsOpen(ctx, endpointID), "stale open marker should self-heal")
	assert.False(t, mr.Exists(openKeyPrefix+endpointID.String()))
	assert.False(t, mr.Exists(failureKeyPrefix+endpointID.String()))
}

func TestCircuitBreaker_StaysOpenWithinCooldown(t *testing.T) {
	breaker, mr := newBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	recentOpen := time.Now().Add(-time.Minute).Unix()
	require.NoError(t, mr.Set(openKeyPrefix+endpointID.String(), strconv.FormatInt(recentOpen, 10)))

	assert.True(t, breaker.IsOpen(ctx, endpointID))
}

func TestCircuitBreaker_FailureCounterExpires(t *testing.T) {
	breaker, mr := newBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	for i := 0; i < defaultFailureThreshold-1; i++ {
		breaker.RecordFailure(ctx, endpointID)
	}

	// Window passes: the counter is gone and the next failure starts fresh.
	mr.FastForward(defaultFailureWindow + time.Second)
	breaker.RecordFailure(ctx, endpointID)

	assert.False(t, breaker.IsOpen(ctx, endpointID))
	count, err := mr.Get(failureKeyPrefix + endpointID.String())
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestCircuitBreaker_MalformedOpenMarkerIsCleared(t *testing.T) {
	breaker, mr := newBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	require.NoError(t, mr.Set(openKeyPrefix+endpointID.String(), "not-a-timestamp"))

	assert.False(t, breaker.IsOpen(ctx, endpointID))
	assert.False(t, mr.Exists(openKeyPrefix+endpointID.String()))
}

func TestCircuitBreaker_FailsOpenWhenRedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	breaker := NewCircuitBreakerStore(client, zerolog.Nop())
	ctx := context.Background()
	endpointID := uuid.New()

	s.Close()

	// Neither reads nor writes may block delivery when the store is gone.
	assert.False(t, breaker.IsOpen(ctx, endpointID))
	assert.NotPanics(t, func() {
		breaker.RecordFailure(ctx, endpointID)
		breaker.RecordSuccess(ctx, endpointID)
	})
}

func TestCircuitBreaker_OpenMarkerHoldsUnixTimestamp(t *testing.T) {
	breaker, mr := newBreaker(t)
	ctx := context.Background()
	endpointID := uuid.New()

	before := time.Now().Unix()
	for i := 0; i < defaultFailureThreshold; i++ {
		breaker.RecordFailure(ctx, endpointID)
	}

	val, err := mr.Get(openKeyPrefix + endpointID.String())
	require.NoError(t, err)
	openedAt, err := strconv.ParseInt(val, 10, 64)
	require.NoError(t, err, fmt.Sprintf("open marker %q should be a unix timestamp", val))
	assert.GreaterOrEqual(t, openedAt, before)
}
