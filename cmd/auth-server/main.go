package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	config "github.com/NordCoder/Gatekeeper/internal/config/auth-server"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger, err := obs.NewLogger(cfg.LoggerConfig())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting auth-server", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelCloser, err := obs.SetupOTel(rootCtx, &cfg.OTEL)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Keys are loaded here: a server that cannot sign must not start.
	a, err := wire(rootCtx, cfg, db, logger)
	if err != nil {
		logger.Fatal("wiring", zap.Error(err))
	}
	defer a.close()

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, logger)

	workCtx, cancelWork := context.WithCancel(context.Background())
	a.outbox.Start(workCtx)

	grpcServer, hs, grpcLn, err := buildGRPCServer(cfg, a.uc)
	if err != nil {
		logger.Fatal("build grpc", zap.Error(err))
	}
	grpcErrCh := make(chan error, 1)
	go func() { grpcErrCh <- serveGRPC(grpcServer, grpcLn, logger) }()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	httpSrv := buildHTTPServer(cfg, logger, a.uc)
	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- serveHTTP(httpSrv, logger) }()

	var runErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal")
	case runErr = <-grpcErrCh:
		if runErr != nil {
			logger.Error("grpc serve", zap.Error(runErr))
		}
	case runErr = <-httpErrCh:
		if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(runErr))
		}
	}

	hs.Shutdown()
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	_ = httpSrv.Shutdown(shCtx)
	grpcServer.GracefulStop()

	cancelWork()
	a.outbox.Wait()
	_ = ms.Shutdown(shCtx)
	logger.Info("bye")
}
