package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/hotpotato/go/internal/events"
	"github.com/rs/zerolog/log"
)

type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// RetryPublisher retries failed publications with a linearly growing delay.
type RetryPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
	cfg       RetryConfig
	clock     clockwork.Clock
}

func NewRetryPublisher(publisher Publisher, metrics MetricsCollector, cfg RetryConfig) *RetryPublisher {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &RetryPublisher{
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
	}
}

func (p *RetryPublisher) Publish(ctx context.Context, event events.Event) error {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(delay):
			}
		}

		err := p.publisher.Publish(ctx, event)
		p.metrics.RecordPublishAttempt(string(event.Type), attempt+1, err == nil)
		if err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}
