package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

const (
	// maxDeliveryAttempts caps retries per delivery row. Attempt 5 failing
	// marks the row permanently FAILED.
	maxDeliveryAttempts = 5

	// baseRetryDelay seeds the exponential backoff: 60s, 120s, 240s, 480s.
	baseRetryDelay = 60 * time.Second

	// claimLease keeps claimed rows invisible to other processors long
	// enough to finish a batch of slow endpoints.
	claimLease = 2 * time.Minute

	webhookUserAgent = "ChainPay-Webhooks/1.0"
)

// webhookBody is the JSON structure POSTed to subscriber endpoints.
type webhookBody struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeliveryService implements ports.WebhookDispatcher. It owns the outbound
// leg: claiming due rows, signing and POSTing them, and recording the outcome
// on the row and on the endpoint's circuit breaker.
type DeliveryService struct {
	deliveryRepo ports.WebhookDeliveryRepository
	endpointRepo ports.WebhookEndpointRepository
	breaker      ports.CircuitBreaker
	encSvc       ports.EncryptionService
	sigSvc       ports.SignatureService
	httpClient   HTTPClient
	log          zerolog.Logger
}

// NewDeliveryService creates a new DeliveryService.
func NewDeliveryService(
	deliveryRepo ports.WebhookDeliveryRepository,
	endpointRepo ports.WebhookEndpointRepository,
	breaker ports.CircuitBreaker,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	log zerolog.Logger,
) *DeliveryService {
	return &DeliveryService{
		deliveryRepo: deliveryRepo,
		endpointRepo: endpointRepo,
		breaker:      breaker,
		encSvc:       encSvc,
		sigSvc:       sigSvc,
		httpClient:   httpClient,
		log:          log,
	}
}

// DeliverWebhook executes one delivery attempt. A skip on an open circuit
// leaves the row completely untouched, so its attempt budget survives the
// outage and the lease expiry re-surfaces it later.
func (s *DeliveryService) DeliverWebhook(ctx context.Context, delivery *domain.WebhookDelivery) error {
	if s.breaker.IsOpen(ctx, delivery.EndpointID) {
		s.log.Info().
			Str("delivery_id", delivery.ID.String()).
			Str("endpoint_id", delivery.EndpointID.String()).
			Msg("circuit open, skipping delivery")
		return nil
	}

	endpoint, err := s.endpointRepo.GetByID(ctx, delivery.EndpointID)
	if err != nil {
		return fmt.Errorf("fetch endpoint: %w", err)
	}
	if endpoint == nil || !endpoint.Enabled {
		return s.failPermanently(ctx, delivery, "webhook endpoint missing or disabled")
	}

	secret, err := s.encSvc.Decrypt(endpoint.SecretEnc)
	if err != nil {
		return fmt.Errorf("decrypt endpoint secret: %w", err)
	}

	body, err := json.Marshal(webhookBody{
		ID:        delivery.ID.String(),
		Type:      delivery.EventType,
		CreatedAt: delivery.CreatedAt.UTC().Format(time.RFC3339),
		Data:      delivery.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	timestamp := time.Now().Unix()
	signature := s.sigSvc.Sign(secret, s.sigSvc.BuildSignedPayload(timestamp, string(body)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("X-Webhook-ID", delivery.ID.String())
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := s.httpClient.Do(req)
	now := time.Now().UTC()
	delivery.LastAttemptAt = &now

	if err != nil {
		s.recordFailure(ctx, delivery, now, nil, err.Error())
		return s.deliveryRepo.Update(ctx, delivery)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		delivery.Status = domain.WebhookDeliveryStatusSucceeded
		delivery.Attempts++
		delivery.ResponseCode = &code
		delivery.SucceededAt = &now
		delivery.NextAttemptAt = nil
		delivery.LastError = nil
		s.breaker.RecordSuccess(ctx, delivery.EndpointID)

		s.log.Info().
			Str("delivery_id", delivery.ID.String()).
			Str("event_type", delivery.EventType).
			Int("status", code).
			Int("attempt", delivery.Attempts).
			Msg("webhook delivered")

		return s.deliveryRepo.Update(ctx, delivery)
	}

	s.recordFailure(ctx, delivery, now, &code, fmt.Sprintf("endpoint returned status %d", code))
	return s.deliveryRepo.Update(ctx, delivery)
}

// ProcessQueue claims a batch of due deliveries and dispatches them
// concurrently. Returns the number of rows claimed.
func (s *DeliveryService) ProcessQueue(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	deliveries, err := s.deliveryRepo.ClaimDue(ctx, limit, now, now.Add(claimLease))
	if err != nil {
		return 0, fmt.Errorf("claim due deliveries: %w", err)
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for i := range deliveries {
		wg.Add(1)
		go func(d *domain.WebhookDelivery) {
			defer wg.Done()
			if err := s.DeliverWebhook(ctx, d); err != nil {
				s.log.Error().Err(err).
					Str("delivery_id", d.ID.String()).
					Msg("webhook delivery attempt errored")
			}
		}(&deliveries[i])
	}
	wg.Wait()

	return len(deliveries), nil
}

// recordFailure counts the attempt, trips the breaker counter and either
// schedules the next retry or retires the row.
func (s *DeliveryService) recordFailure(ctx context.Context, delivery *domain.WebhookDelivery, now time.Time, code *int, message string) {
	delivery.Attempts++
	delivery.Status = domain.WebhookDeliveryStatusFailed
	delivery.ResponseCode = code
	s.breaker.RecordFailure(ctx, delivery.EndpointID)

	if delivery.Attempts >= maxDeliveryAttempts {
		delivery.NextAttemptAt = nil
		message = fmt.Sprintf("%s (retries exhausted after %d attempts)", message, delivery.Attempts)
		delivery.LastError = &message

		s.log.Error().
			Str("delivery_id", delivery.ID.String()).
			Str("endpoint_id", delivery.EndpointID.String()).
			Str("event_type", delivery.EventType).
			Msg("webhook delivery permanently failed")
		return
	}

	next := now.Add(retryDelay(delivery.Attempts))
	delivery.NextAttemptAt = &next
	delivery.LastError = &message

	s.log.Warn().
		Str("delivery_id", delivery.ID.String()).
		Str("endpoint_id", delivery.EndpointID.String()).
		Int("attempt", delivery.Attempts).
		Time("next_attempt_at", next).
		Str("error", message).
		Msg("webhook delivery failed, retry scheduled")
}

// failPermanently retires a row that can never succeed, without burning the
// breaker counter for the endpoint.
func (s *DeliveryService) failPermanently(ctx context.Context, delivery *domain.WebhookDelivery, message string) error {
	now := time.Now().UTC()
	delivery.Status = domain.WebhookDeliveryStatusFailed
	delivery.LastAttemptAt = &now
	delivery.NextAttemptAt = nil
	delivery.LastError = &message

	s.log.Warn().
		Str("delivery_id", delivery.ID.String()).
		Str("endpoint_id", delivery.EndpointID.String()).
		Str("reason", message).
		Msg("webhook delivery retired")

	return s.deliveryRepo.Update(ctx, delivery)
}

// retryDelay doubles per failed attempt starting from baseRetryDelay.
func retryDelay(attempts int) time.Duration {
	return baseRetryDelay << (attempts - 1)
}
