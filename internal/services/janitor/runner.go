package janitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type Config struct {
	Tick time.Duration `mapstructure:"tick"`
	// Once runs a single pass and returns, for cron-style deployments.
	Once bool `mapstructure:"once"`
}

var (
	mDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_rows_deleted_total", Help: "Rows deleted per sweep",
	}, []string{"sweep"})
	mErr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_errors_total", Help: "Failed sweeps",
	}, []string{"sweep"})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "janitor_loop_duration_seconds", Help: "Janitor tick duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Runner struct {
	Log *zap.Logger
	UC  *Usecase
	Cfg Config
}

func New(log *zap.Logger, uc *Usecase, cfg Config) *Runner {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Hour
	}
	return &Runner{Log: log, UC: uc, Cfg: cfg}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	for _, res := range r.UC.Tick(ctx) {
		if res.Err != nil {
			mErr.WithLabelValues(res.Name).Inc()
			r.Log.Warn("sweep failed", zap.String("sweep", res.Name), zap.Error(res.Err))
			continue
		}
		mDeleted.WithLabelValues(res.Name).Add(float64(res.Deleted))
		if res.Deleted > 0 {
			r.Log.Info("swept", zap.String("sweep", res.Name), zap.Int64("deleted", res.Deleted))
		}
	}
	mLoopDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) Run(ctx context.Context) error {
	r.tick(ctx)
	if r.Cfg.Once {
		return nil
	}

	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
