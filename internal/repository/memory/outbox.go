package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Gatekeeper/internal/domain/outbox"
)

type Outbox struct {
	mu   sync.Mutex
	rows map[string]*outbox.Message
	now  func() time.Time
}

var _ outbox.Repository = (*Outbox)(nil)

func NewOutbox() *Outbox {
	return &Outbox{rows: make(map[string]*outbox.Message), now: time.Now}
}

func (o *Outbox) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rows[key]; ok {
		return nil
	}
	now := o.now()
	o.rows[key] = &outbox.Message{
		IdempotencyKey: key,
		Kind:           kind,
		Data:           append([]byte(nil), data...),
		Status:         outbox.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return nil
}

func (o *Outbox) PickBatch(_ context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()

	var cand []*outbox.Message
	for _, m := range o.rows {
		stale := m.Status == outbox.StatusInProgress && m.UpdatedAt.Before(now.Add(-inProgressTTL))
		if m.Status == outbox.StatusCreated || stale {
			cand = append(cand, m)
		}
	}
	sort.Slice(cand, func(i, j int) bool { return cand[i].CreatedAt.Before(cand[j].CreatedAt) })
	if len(cand) > batch {
		cand = cand[:batch]
	}
	out := make([]outbox.Message, 0, len(cand))
	for _, m := range cand {
		m.Status = outbox.StatusInProgress
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (o *Outbox) MarkSuccess(_ context.Context, keys []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, k := range keys {
		if m, ok := o.rows[k]; ok {
			m.Status = outbox.StatusSuccess
			m.UpdatedAt = now
		}
	}
	return nil
}

// Messages returns a snapshot ordered by creation time.
func (o *Outbox) Messages() []outbox.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]outbox.Message, 0, len(o.rows))
	for _, m := range o.rows {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (o *Outbox) SetClock(now func() time.Time) {
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// PurgeBefore deletes delivered messages last touched before cutoff.
func (o *Outbox) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var n int64
	for k, m := range o.rows {
		if m.Status == outbox.StatusSuccess && m.UpdatedAt.Before(cutoff) {
			delete(o.rows, k)
			n++
		}
	}
	return n, nil
}
