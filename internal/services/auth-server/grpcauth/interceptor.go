// Package grpcauth authenticates gRPC calls with the same access tokens the
// REST transport issues.
package grpcauth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	domainauth "github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*domainauth.Principal, error)
}

// UnaryServerInterceptor rejects calls without a valid bearer token unless
// the full method name is listed in public. The Principal is available to
// handlers via domainauth.PrincipalFrom.
func UnaryServerInterceptor(a Authenticator, public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(public))
	for _, m := range public {
		open[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, a)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func StreamServerInterceptor(a Authenticator, public ...string) grpc.StreamServerInterceptor {
	open := make(map[string]bool, len(public))
	for _, m := range public {
		open[m] = true
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if open[info.FullMethod] {
			return next(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), a)
		if err != nil {
			return err
		}
		return next(srv, &principalStream{ServerStream: ss, ctx: ctx})
	}
}

type principalStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *principalStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, a Authenticator) (context.Context, error) {
	raw := bearer(ctx)
	if raw == "" {
		return ctx, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	p, err := a.Authenticate(ctx, raw)
	if errors.Is(err, domainauth.ErrInvalidToken) {
		return ctx, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if err != nil {
		return ctx, status.Error(codes.Internal, "authentication unavailable")
	}
	return domainauth.WithPrincipal(ctx, p), nil
}

func bearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := vals[0]
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}
