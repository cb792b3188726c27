package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
)

// Deliveries remembers which notification events were already mailed.
type Deliveries struct {
	mu   sync.Mutex
	rows map[string]notification.Delivery
}

var _ notification.DeliveryLog = (*Deliveries)(nil)

func NewDeliveries() *Deliveries {
	return &Deliveries{rows: make(map[string]notification.Delivery)}
}

func (d *Deliveries) Delivered(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rows[eventID]
	return ok, nil
}

func (d *Deliveries) Record(_ context.Context, rec notification.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[rec.EventID]; !ok {
		d.rows[rec.EventID] = rec
	}
	return nil
}

func (d *Deliveries) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for id, rec := range d.rows {
		if rec.SentAt.Before(cutoff) {
			delete(d.rows, id)
			n++
		}
	}
	return n, nil
}

func (d *Deliveries) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows)
}
