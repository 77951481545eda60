package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	failureKeyPrefix = "circuit:failures:"
	openKeyPrefix    = "circuit:open:"

	defaultFailureThreshold = 10
	defaultFailureWindow    = 10 * time.Minute
	defaultOpenCooldown     = 5 * time.Minute
)

// incrementAndOpenScript atomically increments the failure counter,
// refreshes its expiry, and sets the open marker when the post-increment
// count hits the threshold. Doing this server-side closes the race where two
// workers both cross the threshold and fight over the marker.
var incrementAndOpenScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[1])
if count == tonumber(ARGV[2]) then
	redis.call("SET", KEYS[2], ARGV[3])
end
return count
`)

// CircuitBreakerStore implements ports.CircuitBreaker over Redis. The
// counters are shared by every worker process; they are an operational
// signal only, so every Redis failure degrades to "closed" and traffic
// keeps flowing.
type CircuitBreakerStore struct {
	client    *goredis.Client
	log       zerolog.Logger
	threshold int
	window    time.Duration
	cooldown  time.Duration
}

// NewCircuitBreakerStore creates a Redis-backed circuit breaker with the
// default threshold (10 failures in 10 minutes) and cooldown (5 minutes).
func NewCircuitBreakerStore(client *goredis.Client, log zerolog.Logger) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		client:    client,
		log:       log,
		threshold: defaultFailureThreshold,
		window:    defaultFailureWindow,
		cooldown:  defaultOpenCooldown,
	}
}

// IsOpen reports whether deliveries to the endpoint are currently blocked.
// An open marker older than the cooldown is cleared here, so the breaker
// heals itself without a separate janitor.
func (s *CircuitBreakerStore) IsOpen(ctx context.Context, endpointID uuid.UUID) bool {
	openKey := openKeyPrefix + endpointID.String()

	val, err := s.client.Get(ctx, openKey).Result()
	if err != nil {
		if err != goredis.Nil {
			s.log.Warn().Err(err).Str("endpoint_id", endpointID.String()).
				Msg("circuit breaker read failed, allowing traffic")
		}
		return false
	}

	openedAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		s.log.Warn().Str("endpoint_id", endpointID.String()).Str("value", val).
			Msg("circuit breaker open marker is malformed, clearing")
		s.clear(ctx, endpointID)
		return false
	}

	if time.Since(time.Unix(openedAt, 0)) > s.cooldown {
		s.clear(ctx, endpointID)
		return false
	}
	return true
}

// RecordSuccess closes the circuit for the endpoint.
func (s *CircuitBreakerStore) RecordSuccess(ctx context.Context, endpointID uuid.UUID) {
	s.clear(ctx, endpointID)
}

// RecordFailure counts one failed delivery and opens the circuit when the
// count reaches the threshold. The counter expires on its own, so sparse
// failures never accumulate into an open circuit.
func (s *CircuitBreakerStore) RecordFailure(ctx context.Context, endpointID uuid.UUID) {
	failKey := failureKeyPrefix + endpointID.String()
	openKey := openKeyPrefix + endpointID.String()

	windowSecs := int64(s.window.Seconds())
	now := time.Now().Unix()

	_, err := incrementAndOpenScript.Run(ctx, s.client,
		[]string{failKey, openKey},
		windowSecs, s.threshold, now,
	).Result()
	if err == nil {
		return
	}

	// Script execution unavailable: degrade to separate commands. Two racing
	// workers can both observe the threshold here; the window is narrower
	// than check-then-increment but not eliminated.
	s.log.Warn().Err(err).Str("endpoint_id", endpointID.String()).
		Msg("circuit breaker script failed, falling back to non-atomic increment")

	count, err := s.client.Incr(ctx, failKey).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("endpoint_id", endpointID.String()).
			Msg("circuit breaker increment failed")
		return
	}
	if err := s.client.Expire(ctx, failKey, s.window).Err(); err != nil {
		s.log.Warn().Err(err).Str("endpoint_id", endpointID.String()).
			Msg("circuit breaker expire failed")
	}
	if count == int64(s.threshold) {
		if err := s.client.Set(ctx, openKey, now, 0).Err(); err != nil {
			s.log.Warn().Err(err).Str("endpoint_id", endpointID.String()).
				Msg("circuit breaker open marker set failed")
		}
	}
}

func (s *CircuitBreakerStore) clear(ctx context.Context, endpointID uuid.UUID) {
	failKey := failureKeyPrefix + endpointID.String()
	openKey := openKeyPrefix + endpointID.String()
	if err := s.client.Del(ctx, failKey, openKey).Err(); err != nil {
		s.log.Warn().Err(err).Str("endpoint_id", endpointID.String()).
			Msg("circuit breaker clear failed")
	}
}
