package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// eventResourceKeys names the payload field holding the deduplication
// resource id for each event type.
var eventResourceKeys = map[string]string{
	domain.EventPaymentCreated:    "payment_id",
	domain.EventPaymentConfirming: "payment_id",
	domain.EventPaymentCompleted:  "payment_id",
	domain.EventPaymentFailed:     "payment_id",
	domain.EventPaymentRefunded:   "payment_id",
	domain.EventRefundCreated:     "refund_id",
	domain.EventRefundProcessing:  "refund_id",
	domain.EventRefundCompleted:   "refund_id",
	domain.EventRefundFailed:      "refund_id",
}

// WebhookQueueService implements ports.WebhookQueue.
type WebhookQueueService struct {
	endpointRepo ports.WebhookEndpointRepository
	deliveryRepo ports.WebhookDeliveryRepository
	log          zerolog.Logger
}

// NewWebhookQueueService creates a new WebhookQueueService.
func NewWebhookQueueService(
	endpointRepo ports.WebhookEndpointRepository,
	deliveryRepo ports.WebhookDeliveryRepository,
	log zerolog.Logger,
) *WebhookQueueService {
	return &WebhookQueueService{
		endpointRepo: endpointRepo,
		deliveryRepo: deliveryRepo,
		log:          log,
	}
}

// QueueWebhook fans an event out to every subscribed endpoint of the account,
// inserting one pending delivery per endpoint. Re-queueing the same event for
// the same resource is swallowed per endpoint by the uniqueness constraint on
// (endpoint_id, event_type, resource_id). Returns the number of rows created.
func (s *WebhookQueueService) QueueWebhook(ctx context.Context, accountID uuid.UUID, eventType string, data map[string]interface{}) (int, error) {
	resourceKey, ok := eventResourceKeys[eventType]
	if !ok {
		return 0, apperror.ErrUnknownEventType(eventType)
	}
	resourceID := stringField(data, resourceKey)
	if resourceID == "" {
		return 0, apperror.ErrMissingResourceID(eventType, resourceKey)
	}

	endpoints, err := s.endpointRepo.ListSubscribed(ctx, accountID, eventType)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list subscribed endpoints: %w", err))
	}
	if len(endpoints) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("marshal event payload: %w", err))
	}

	now := time.Now().UTC()
	created := 0
	for _, ep := range endpoints {
		delivery := &domain.WebhookDelivery{
			ID:            uuid.New(),
			EndpointID:    ep.ID,
			EventType:     eventType,
			ResourceID:    resourceID,
			Payload:       payload,
			Status:        domain.WebhookDeliveryStatusPending,
			NextAttemptAt: &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		inserted, err := s.deliveryRepo.CreateUnique(ctx, delivery)
		if err != nil {
			return created, apperror.InternalError(fmt.Errorf("queue delivery: %w", err))
		}
		if inserted {
			created++
		} else {
			s.log.Debug().
				Str("endpoint_id", ep.ID.String()).
				Str("event_type", eventType).
				Str("resource_id", resourceID).
				Msg("delivery already queued, skipping duplicate")
		}
	}

	s.log.Info().
		Str("event_type", eventType).
		Str("resource_id", resourceID).
		Int("endpoints", len(endpoints)).
		Int("queued", created).
		Msg("webhook event queued")

	return created, nil
}

func stringField(data map[string]interface{}, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
