package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	"github.com/NordCoder/Gatekeeper/internal/obs/retry"
)

var (
	mConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_notifier_events_consumed_total",
		Help: "Notification events consumed, by kind.",
	}, []string{"kind"})
	mSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_notifier_emails_sent_total",
		Help: "Emails sent, by kind.",
	}, []string{"kind"})
	mSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_notifier_events_skipped_total",
		Help: "Events dropped without mail, by reason.",
	}, []string{"reason"})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_notifier_errors_total",
		Help: "Events that failed to send.",
	})
)

type Handler struct {
	Out        notification.EmailSender
	Deliveries notification.DeliveryLog
	Clock      notification.Clock
	Brand      Brand
	// Send wraps each SMTP attempt. Zero value means a single attempt.
	Retry retry.Policy

	Logger *zap.Logger
}

// HandleEvent mails one event at most once per event id. Malformed events,
// unknown kinds and expired reset links are dropped with a nil error so the
// consumer commits past them.
func (h *Handler) HandleEvent(ctx context.Context, ev notification.Event) error {
	ctx, span := otel.Tracer("email-notifier").Start(ctx, "notifier.HandleEvent")
	defer span.End()
	span.SetAttributes(attribute.String("notification.kind", string(ev.Kind)))

	log := obs.WithTrace(ctx, h.logger()).With(
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("user_id", ev.UserID.String()),
	)
	mConsumed.WithLabelValues(string(ev.Kind)).Inc()

	if ev.ID == "" || ev.Email == "" {
		return h.skip(log, "malformed")
	}
	if ev.Kind == notification.KindPasswordReset {
		if ev.ResetURL == "" {
			return h.skip(log, "malformed")
		}
		if ev.ExpiresAt != nil && !h.Clock.Now().Before(*ev.ExpiresAt) {
			return h.skip(log, "expired")
		}
	}

	done, err := h.Deliveries.Delivered(ctx, ev.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery lookup")
		return fmt.Errorf("delivery lookup: %w", err)
	}
	if done {
		return h.skip(log, "duplicate")
	}

	subject, body, err := Render(h.Brand, ev)
	if errors.Is(err, ErrUnknownKind) {
		return h.skip(log, "unknown_kind")
	}
	if err != nil {
		return err
	}

	if err := retry.Do(ctx, func() error { return h.Out.Send(ctx, ev.Email, subject, body) }, h.Retry); err != nil {
		mErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		log.Error("send email", zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}
	mSent.WithLabelValues(string(ev.Kind)).Inc()

	if err := h.Deliveries.Record(ctx, notification.Delivery{
		EventID:  ev.ID,
		Kind:     ev.Kind,
		TenantID: ev.TenantID,
		UserID:   ev.UserID,
		SentAt:   h.Clock.Now().UTC(),
	}); err != nil {
		// The mail is out; a redelivery may send it twice.
		log.Warn("record delivery", zap.Error(err))
	}
	log.Info("notification sent")
	return nil
}

func (h *Handler) skip(log *zap.Logger, reason string) error {
	mSkipped.WithLabelValues(reason).Inc()
	log.Info("notification skipped", zap.String("reason", reason))
	return nil
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
