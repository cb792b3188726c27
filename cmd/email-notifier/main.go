package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Gatekeeper/internal/config/email-notifier"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	"github.com/NordCoder/Gatekeeper/internal/repository/kafka"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
	notifier "github.com/NordCoder/Gatekeeper/internal/services/email-notifier"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func wiring(db *pg.DB, cfg *config.Config, cons *kafka.Consumer, l *zap.Logger) *notifier.Controller {
	uc := &notifier.Handler{
		Out:        notifier.NewMailer(cfg.SMTP).WithLogger(l),
		Deliveries: pg.NewDeliveryRepo(db),
		Clock:      systemClock{},
		Brand:      cfg.Brand,
		Retry:      cfg.SendPolicy(),
		Logger:     l,
	}
	return &notifier.Controller{Log: l, Sub: cons, UC: uc}
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	l, err := obs.NewLogger(cfg.LoggerConfig())
	if err != nil {
		panic(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting email-notifier",
		zap.String("topic", cfg.In.Topic),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("smtp_addr", cfg.SMTP.Addr),
	)

	otelCloser, err := obs.SetupOTel(rootCtx, &cfg.OTEL)
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	} else {
		defer func() { _ = otelCloser.Shutdown(context.Background()) }()
	}

	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, l)

	cons := kafka.BootstrapConsumer(rootCtx, &cfg.In, cfg.Topic, l).WithLogger(l)
	defer func() { _ = cons.Close() }()
	l.Info("kafka consumer initialized",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("group_id", cfg.In.GroupID),
	)

	ctrl := wiring(db, cfg, cons, l)
	errCh := make(chan error, 1)
	go func() {
		l.Info("controller starting")
		errCh <- ctrl.Run(rootCtx)
	}()

	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr := <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("controller error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
