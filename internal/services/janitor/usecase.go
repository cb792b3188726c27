// Package janitor deletes security records that have outlived their
// retention period.
package janitor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Purger deletes whatever it owns that is stale as of now. The component
// applies its own retention.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

type PurgeFunc func(ctx context.Context, now time.Time) (int64, error)

func (f PurgeFunc) Purge(ctx context.Context, now time.Time) (int64, error) { return f(ctx, now) }

// BeforeCutoff is a store that deletes rows older than a cutoff.
type BeforeCutoff interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retain turns a cutoff store into a Purger keeping rows for retention.
func Retain(store BeforeCutoff, retention time.Duration) Purger {
	return PurgeFunc(func(ctx context.Context, now time.Time) (int64, error) {
		return store.PurgeBefore(ctx, now.Add(-retention))
	})
}

type Sweep struct {
	Name   string
	Purger Purger
}

type Result struct {
	Name    string
	Deleted int64
	Err     error
}

type Usecase struct {
	sweeps []Sweep
	now    func() time.Time
	tr     trace.Tracer
}

func NewUC(now func() time.Time, sweeps ...Sweep) *Usecase {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Usecase{sweeps: sweeps, now: now, tr: otel.Tracer("janitor.uc")}
}

// Tick runs every sweep once. A failing sweep does not stop the others.
func (u *Usecase) Tick(ctx context.Context) []Result {
	ctx, span := u.tr.Start(ctx, "janitor.tick")
	defer span.End()

	now := u.now()
	out := make([]Result, 0, len(u.sweeps))
	for _, s := range u.sweeps {
		sctx, sp := u.tr.Start(ctx, "janitor.sweep", trace.WithAttributes(attribute.String("sweep", s.Name)))
		n, err := s.Purger.Purge(sctx, now)
		if err != nil {
			err = fmt.Errorf("%s: %w", s.Name, err)
			sp.RecordError(err)
		}
		sp.SetAttributes(attribute.Int64("deleted", n))
		sp.End()
		out = append(out, Result{Name: s.Name, Deleted: n, Err: err})
	}
	return out
}
