package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Gatekeeper/internal/config/janitor"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
	"github.com/NordCoder/Gatekeeper/internal/services/janitor"
)

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
	l.Info("starting janitor", zap.Duration("tick", cfg.Janitor.Tick), zap.Bool("once", cfg.Janitor.Once))

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

	var ms interface{ Shutdown(context.Context) error }
	if !cfg.Janitor.Once {
		ms = obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, l)
	}

	r := janitor.New(l, janitor.NewUC(nil, janitor.PostgresSweeps(db, cfg.Retention, l)...), cfg.Janitor)
	if err := r.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("janitor", zap.Error(err))
	}

	if ms != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ms.Shutdown(shCtx)
	}
	l.Info("bye")
}
