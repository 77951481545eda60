package worker

import (
	"context"
	"time"

	"chainpay-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// ExpiryWorker periodically fails payment sessions whose window has closed.
type ExpiryWorker struct {
	paymentSvc ports.PaymentService
	interval   time.Duration
	log        zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker sweeping every interval.
func NewExpiryWorker(paymentSvc ports.PaymentService, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		paymentSvc: paymentSvc,
		interval:   interval,
		log:        log,
	}
}

// Run sweeps until ctx is cancelled. A failing sweep is logged and the loop
// continues; the next tick retries.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.interval).Msg("session expiry worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("session expiry worker stopped")
			return ctx.Err()
		case <-ticker.C:
			count, err := w.paymentSvc.ExpireStaleSessions(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("session expiry sweep failed")
				continue
			}
			if count > 0 {
				w.log.Info().Int("count", count).Msg("session expiry sweep completed")
			}
		}
	}
}
