package postgres

import (
	"context"
	"time"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
)

var _ notification.DeliveryLog = (*DeliveryRepo)(nil)

// DeliveryRepo is the email notifier's record of sent events.
type DeliveryRepo struct{ db *DB }

func NewDeliveryRepo(db *DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

const (
	qDeliveryInsert = `
INSERT INTO notification_deliveries (event_id, kind, tenant_id, user_id, sent_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
ON CONFLICT (event_id) DO NOTHING;`

	qDeliveryExists = `
SELECT EXISTS (SELECT 1 FROM notification_deliveries WHERE event_id = $1);`

	qDeliveryPurge = `
DELETE FROM notification_deliveries
WHERE sent_at < $1;`
)

func (r *DeliveryRepo) Delivered(ctx context.Context, eventID string) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var ok bool
	if err := r.db.Pool.QueryRow(ctx, qDeliveryExists, eventID).Scan(&ok); err != nil {
		return false, mapErr("delivery lookup", err)
	}
	return ok, nil
}

func (r *DeliveryRepo) Record(ctx context.Context, d notification.Delivery) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, qDeliveryInsert, d.EventID, string(d.Kind), d.TenantID, d.UserID, nullTime(d.SentAt))
	return mapErr("delivery insert", err)
}

func (r *DeliveryRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, qDeliveryPurge, cutoff)
	if err != nil {
		return 0, mapErr("delivery purge", err)
	}
	return tag.RowsAffected(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
