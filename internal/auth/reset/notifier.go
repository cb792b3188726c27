package reset

import (
	"context"
	"fmt"
	"net/url"

	"github.com/oklog/ulid/v2"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
)

// PublisherNotifier turns a Notice into a password_reset event carrying the
// reset link. The event goes straight to the publisher, not the outbox: the
// link is short-lived and must not sit in a table.
type PublisherNotifier struct {
	pub     notification.Publisher
	baseURL string
}

func NewPublisherNotifier(pub notification.Publisher, resetURL string) *PublisherNotifier {
	return &PublisherNotifier{pub: pub, baseURL: resetURL}
}

func (p *PublisherNotifier) NotifyReset(ctx context.Context, n Notice) error {
	link, err := resetLink(p.baseURL, n.Secret)
	if err != nil {
		return err
	}
	exp := n.ExpiresAt
	return p.pub.Publish(ctx, notification.Event{
		ID:         ulid.Make().String(),
		Kind:       notification.KindPasswordReset,
		TenantID:   n.TenantID,
		UserID:     n.UserID,
		Email:      n.Email,
		ResetURL:   link,
		ExpiresAt:  &exp,
		IP:         n.IP,
		OccurredAt: n.RequestedAt,
	})
}

func resetLink(base, raw string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse reset url: %w", err)
	}
	q := u.Query()
	q.Set("token", raw)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
