package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/obs/retry"
)

// DefaultNotificationsTopic carries every event the email notifier mails.
const DefaultNotificationsTopic = "auth.notifications"

type publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// NotificationEvents publishes notification events as JSON keyed by user id,
// so one user's events stay ordered.
type NotificationEvents struct {
	p publisher
}

var _ notification.Publisher = (*NotificationEvents)(nil)

func NewNotificationEvents(p publisher) *NotificationEvents { return &NotificationEvents{p: p} }

func (e *NotificationEvents) Publish(ctx context.Context, ev notification.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	return e.p.Publish(ctx, []byte(ev.UserID.String()), value)
}

type retryingPublisher struct {
	next notification.Publisher
	pol  retry.Policy
}

// WithRetry retries every publish under pol. The outbox runner retries on
// its own, so this is for direct publishes such as reset links.
func WithRetry(next notification.Publisher, pol retry.Policy) notification.Publisher {
	return &retryingPublisher{next: next, pol: pol}
}

func (r *retryingPublisher) Publish(ctx context.Context, ev notification.Event) error {
	return retry.Do(ctx, func() error { return r.next.Publish(ctx, ev) }, r.pol)
}
