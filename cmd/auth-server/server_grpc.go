package main

import (
	"net"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	config "github.com/NordCoder/Gatekeeper/internal/config/auth-server"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/grpcauth"
)

var publicMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
	"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
}

func buildGRPCServer(cfg *config.Config, a grpcauth.Authenticator) (*grpc.Server, *health.Server, net.Listener, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()

	opts := obs.GRPCServerOpts()
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			grpcMetrics.UnaryServerInterceptor(),
			grpcauth.UnaryServerInterceptor(a, publicMethods...),
		),
		grpc.ChainStreamInterceptor(
			grpcMetrics.StreamServerInterceptor(),
			grpcauth.StreamServerInterceptor(a, publicMethods...),
		),
	)

	grpcServer := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, nil, err
	}
	return grpcServer, hs, ln, nil
}

func serveGRPC(s *grpc.Server, ln net.Listener, logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}
