package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultPublishPolicy is used for at-least-once delivery of notification
// events: outbox handlers and direct Kafka publishes.
func DefaultPublishPolicy(name string, log *zap.Logger) Policy {
	return Policy{
		Name:     name,
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("publish retry", zap.String("name", name), zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("publish retries exhausted", zap.String("name", name), zap.Error(err))
			}
		},
	}
}

// HTTPPolicy suits short synchronous calls made on a request path: a
// handful of attempts, 100ms doubling, capped at one second.
func HTTPPolicy(name string, retries int, retryable func(error) bool) Policy {
	return Policy{
		Name:      name,
		Attempts:  retries + 1,
		Backoff:   ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second},
		Retryable: retryable,
	}
}
