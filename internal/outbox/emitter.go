package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/domain/outbox"
)

// ErrNotOutboxable is returned for events that must never be persisted,
// such as password_reset whose payload carries a live secret.
var ErrNotOutboxable = errors.New("event kind cannot go through the outbox")

var kinds = map[notification.Kind]outbox.Kind{
	notification.KindPasswordChanged: outbox.KindPasswordChanged,
	notification.KindSessionReuse:    outbox.KindSessionReuse,
	notification.KindAccountLocked:   outbox.KindAccountLocked,
}

func kindName(k outbox.Kind) (notification.Kind, bool) {
	for n, v := range kinds {
		if v == k {
			return n, true
		}
	}
	return "", false
}

// Emitter writes security events into the outbox table. Called inside a
// transaction, the event commits or rolls back with the state change.
type Emitter struct {
	repo outbox.Repository
}

var _ notification.Emitter = (*Emitter)(nil)

func NewEmitter(repo outbox.Repository) *Emitter {
	return &Emitter{repo: repo}
}

func (e *Emitter) Emit(ctx context.Context, ev notification.Event) error {
	kind, ok := kinds[ev.Kind]
	if !ok || ev.ResetURL != "" {
		return fmt.Errorf("%w: %s", ErrNotOutboxable, ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	if err := e.repo.Enqueue(ctx, ev.ID, kind, data); err != nil {
		return fmt.Errorf("enqueue %s event: %w", ev.Kind, err)
	}
	return nil
}
