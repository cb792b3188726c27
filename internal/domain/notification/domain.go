package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPasswordReset   Kind = "password_reset"
	KindPasswordChanged Kind = "password_changed"
	KindSessionReuse    Kind = "session_reuse_detected"
	KindAccountLocked   Kind = "account_locked"
)

// Event is what the auth server hands to the email notifier. Only
// password_reset events carry a secret, inside ResetURL.
type Event struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Email      string     `json:"email"`
	ResetURL   string     `json:"reset_url,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UnlockAt   *time.Time `json:"unlock_at,omitempty"`
	IP         string     `json:"ip,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emitter records a security event for later delivery.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Clock interface {
	Now() time.Time
}

// Delivery records that an event was mailed. It never holds the body: a
// password_reset body carries a live secret.
type Delivery struct {
	EventID  string
	Kind     Kind
	TenantID uuid.UUID
	UserID   uuid.UUID
	SentAt   time.Time
}

// DeliveryLog lets the notifier skip events it has already sent when Kafka
// redelivers them.
type DeliveryLog interface {
	Delivered(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, d Delivery) error
}
