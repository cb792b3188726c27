package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/NordCoder/Gatekeeper/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const (
	qEnqueue = `
INSERT INTO outbox (idempotency_key, data, status, kind, traceparent, tracestate, baggage)
VALUES ($1, $2, 'CREATED', $3, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING;`

	qPick = `
WITH cand AS (
   SELECT idempotency_key
   FROM outbox
   WHERE status = 'CREATED'
      OR (status = 'IN_PROGRESS' AND updated_at < now() - $2::interval)
   ORDER BY created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
), upd AS (
   UPDATE outbox o
   SET status = 'IN_PROGRESS', updated_at = now()
   FROM cand
   WHERE o.idempotency_key = cand.idempotency_key
   RETURNING o.idempotency_key, o.kind, o.data, o.status, o.created_at, o.updated_at,
             o.traceparent, o.tracestate, o.baggage
)
SELECT idempotency_key, kind, data, status, created_at, updated_at, traceparent, tracestate, baggage
FROM upd
ORDER BY created_at;`

	qMarkSuccess = `
UPDATE outbox
SET status = 'SUCCESS', updated_at = now()
WHERE idempotency_key = ANY($1);`

	qOutboxPurge = `
DELETE FROM outbox
WHERE status = 'SUCCESS' AND updated_at < $1;`
)

// Enqueue stores the message with the caller's trace context so the runner
// can continue the trace when it dispatches.
func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	_, err := r.db.execQueryer(ctx).Exec(ctx, qEnqueue, key, data, int(kind),
		carrier.Get("traceparent"), carrier.Get("tracestate"), carrier.Get("baggage"))
	return mapErr("outbox enqueue", err)
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	ttl := fmt.Sprintf("%f seconds", inProgressTTL.Seconds())
	rows, err := r.db.Pool.Query(ctx, qPick, batch, ttl)
	if err != nil {
		return nil, fmt.Errorf("outbox pick: %w", err)
	}
	defer rows.Close()

	var out []outbox.Message
	for rows.Next() {
		var (
			m      outbox.Message
			kind   int
			status string
		)
		if err := rows.Scan(&m.IdempotencyKey, &kind, &m.Data, &status, &m.CreatedAt, &m.UpdatedAt,
			&m.Traceparent, &m.Tracestate, &m.Baggage); err != nil {
			return nil, fmt.Errorf("outbox scan: %w", err)
		}
		m.Kind = outbox.Kind(kind)
		m.Status = outbox.Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qMarkSuccess, keys); err != nil {
		return fmt.Errorf("outbox mark success: %w", err)
	}
	return nil
}

// PurgeBefore deletes delivered messages last touched before cutoff.
func (r *OutboxRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, qOutboxPurge, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
