package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/domain/outbox"
	"github.com/NordCoder/Gatekeeper/internal/obs"
)

var (
	mPicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_picked_total", Help: "Messages picked into processing.",
	})
	mOk = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_processed_ok_total", Help: "Messages processed successfully.",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_processed_err_total", Help: "Handler errors.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "outbox_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_last_batch_size", Help: "Size of last picked batch.",
	})
)

type RunnerConfig struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.WaitTime <= 0 {
		c.WaitTime = time.Second
	}
	if c.InProgressTTL <= 0 {
		c.InProgressTTL = time.Minute
	}
	return c
}

// Runner drains the outbox table. Messages are marked SUCCESS only after
// their handler returns nil; failed ones are picked again once their
// IN_PROGRESS lease expires.
type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      RunnerConfig
	wg       sync.WaitGroup
}

func NewRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg RunnerConfig) *Runner {
	return &Runner{log: log, repo: repo, dispatch: dispatch, cfg: cfg.withDefaults()}
}

// Start launches the workers; they stop when ctx is cancelled. Wait blocks
// until they have.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	r.log.Info("outbox worker started", zap.Duration("wait", r.cfg.WaitTime))

	ticker := time.NewTicker(r.cfg.WaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox worker stop")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick processes one batch and returns how many messages succeeded.
func (r *Runner) Tick(ctx context.Context) int {
	t0 := time.Now()
	defer func() { mTickDur.Observe(time.Since(t0).Seconds()) }()

	tr := otel.Tracer("outbox.runner")
	prop := otel.GetTextMapPropagator()

	ctxSpan, span := tr.Start(ctx, "outbox.tick")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.limit", r.cfg.BatchSize),
		attribute.String("in_progress_ttl", r.cfg.InProgressTTL.String()),
	)

	messages, err := r.repo.PickBatch(ctxSpan, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		span.RecordError(err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("outbox pick error", zap.Error(err))
		return 0
	}
	mPicked.Add(float64(len(messages)))
	mBatchSize.Set(float64(len(messages)))
	if len(messages) == 0 {
		return 0
	}

	okKeys := make([]string, 0, len(messages))
	for _, m := range messages {
		parent := prop.Extract(ctx, propagation.MapCarrier{
			"traceparent": m.Traceparent,
			"tracestate":  m.Tracestate,
			"baggage":     m.Baggage,
		})
		msgCtx, msgSpan := tr.Start(parent, "outbox.dispatch",
			trace.WithAttributes(
				attribute.String("outbox.key", m.IdempotencyKey),
				attribute.Int("outbox.kind", int(m.Kind)),
			),
		)

		handler, herr := r.dispatch(m.Kind)
		if herr != nil {
			msgSpan.RecordError(herr)
			mErr.Inc()
			obs.WithTrace(msgCtx, r.log).Error("no handler for kind",
				zap.Int("kind", int(m.Kind)), zap.Error(herr))
			msgSpan.End()
			continue
		}
		if err := handler(msgCtx, m.Data); err != nil {
			msgSpan.RecordError(err)
			mErr.Inc()
			obs.WithTrace(msgCtx, r.log).Error("handler error",
				zap.Int("kind", int(m.Kind)), zap.Error(err))
			msgSpan.End()
			continue
		}
		msgSpan.End()
		okKeys = append(okKeys, m.IdempotencyKey)
		mOk.Inc()
	}

	if len(okKeys) == 0 {
		return 0
	}
	if err := r.repo.MarkSuccess(ctxSpan, okKeys); err != nil {
		span.RecordError(err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("mark success error", zap.Error(err))
		return 0
	}
	return len(okKeys)
}
