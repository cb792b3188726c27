package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/domain/outbox"
	"github.com/NordCoder/Gatekeeper/internal/obs/retry"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

// WrapKindHandler retries h under p.
func WrapKindHandler(h outbox.KindHandler, p retry.Policy) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		return retry.Do(ctx, func() error { return h(ctx, data) }, p)
	}
}

func instrument(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind
	}
	wrapped := WrapKindHandler(h, pol)
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		defer span.End()
		span.SetAttributes(attribute.String("notification.kind", kind))

		start := time.Now()
		err := wrapped(ctx, data)
		outboxHandlerLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind).Inc()
		}
		return err
	}
}

// MakeGlobalHandler publishes every supported outbox kind as a
// notification event.
func MakeGlobalHandler(pub notification.Publisher, pol retry.Policy) outbox.GlobalHandler {
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		name, ok := kindName(kind)
		if !ok {
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
		base := func(ctx context.Context, data []byte) error {
			var ev notification.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				return fmt.Errorf("unmarshal %s payload: %w", name, err)
			}
			return pub.Publish(ctx, ev)
		}
		return instrument(string(name), base, pol), nil
	}
}
