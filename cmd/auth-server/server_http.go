package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Gatekeeper/internal/config/auth-server"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/auth"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/httpapi"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, uc *auth.Usecase) *http.Server {
	h := httpapi.NewHandler(uc, httpapi.Options{
		Cookie:        cfg.Refresh.Cookie,
		RefreshInBody: cfg.Refresh.InBody,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Logger:        logger,
	})
	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           h.Routes(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func serveHTTP(srv *http.Server, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", srv.Addr))
	return srv.ListenAndServe()
}
