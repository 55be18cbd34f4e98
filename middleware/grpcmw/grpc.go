// Package grpcmw provides gRPC server interceptors backed by an
// *authkit.Guard.
//
// Use this package for gRPC services that do NOT use Kratos. For Kratos-based
// services, use kratosmw instead; it handles both HTTP and gRPC transports.
//
// Credentials are read from the incoming metadata keys "authorization"
// ("Bearer <token>") and "x-api-key". The resolved user is stored with
// authkit.WithUser.
package grpcmw

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/chimerakang/authkit"
)

// ErrorDomain is the errdetails.ErrorInfo domain of rejections.
const ErrorDomain = "authkit"

const (
	mdAuthorization = "authorization"
	mdAPIKey        = "x-api-key"
)

// AuthOption configures auth interceptor behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedMethods map[string]bool
}

// WithExcludedMethods sets gRPC methods that skip authentication.
// Methods should be fully qualified (e.g. "/package.Service/Method").
func WithExcludedMethods(methods ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

func newAuthConfig(opts []AuthOption) *authConfig {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// UnaryAuth returns a unary interceptor that resolves the caller from a
// bearer token.
func UnaryAuth(g *authkit.Guard, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		ctx, err := authenticate(ctx, g)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuth returns a stream interceptor that resolves the caller from a
// bearer token.
func StreamAuth(g *authkit.Guard, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx, err := authenticate(ss.Context(), g)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryOptionalAuth resolves a bearer token when one is present. Calls are
// never rejected.
func UnaryOptionalAuth(g *authkit.Guard) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if user, ok := g.OptionalUser(ctx, bearerFromMD(ctx)).User(); ok {
			ctx = authkit.WithUser(ctx, user)
		}
		return handler(ctx, req)
	}
}

// UnaryAPIKey resolves the caller from the x-api-key metadata.
func UnaryAPIKey(g *authkit.Guard, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		user, err := g.APIKeyUser(ctx, firstMD(ctx, mdAPIKey))
		if err != nil {
			return nil, toStatus(err)
		}
		return handler(authkit.WithUser(ctx, user), req)
	}
}

// UnaryAuthorize checks the user placed in the context by an earlier
// interceptor against req. Chain it after UnaryAuth or UnaryAPIKey.
func UnaryAuthorize(g *authkit.Guard, req authkit.Requirement) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, r any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := g.Authorize(ctx, authkit.UserFromContext(ctx), req); err != nil {
			return nil, toStatus(err)
		}
		return handler(ctx, r)
	}
}

// --- internal helpers ---

func authenticate(ctx context.Context, g *authkit.Guard) (context.Context, error) {
	user, err := g.CurrentUser(ctx, bearerFromMD(ctx))
	if err != nil {
		return ctx, toStatus(err)
	}
	return authkit.WithUser(ctx, user), nil
}

// toStatus converts an authkit error into a gRPC status carrying an
// ErrorInfo with the unmet requirement.
func toStatus(err error) error {
	var (
		authnErr *authkit.AuthenticationError
		authzErr *authkit.AuthorizationError
		st       *status.Status
		info     = &errdetails.ErrorInfo{Domain: ErrorDomain}
	)
	switch {
	case errors.As(err, &authnErr):
		st = status.New(codes.Unauthenticated, authnErr.Reason)
		info.Reason = "UNAUTHENTICATED"
	case errors.As(err, &authzErr):
		st = status.New(codes.PermissionDenied, authzErr.Reason)
		info.Reason = "PERMISSION_DENIED"
		info.Metadata = map[string]string{}
		if len(authzErr.RequiredPermissions) > 0 {
			info.Metadata["required_permissions"] = strings.Join(authzErr.RequiredPermissions, ",")
		}
		if authzErr.RequiredScope != "" {
			info.Metadata["required_scope"] = authzErr.RequiredScope
		}
	default:
		return status.Error(codes.Internal, "internal server error")
	}

	if withInfo, derr := st.WithDetails(info); derr == nil {
		st = withInfo
	}
	return st.Err()
}

func firstMD(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func bearerFromMD(ctx context.Context) string {
	parts := strings.SplitN(firstMD(ctx, mdAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// wrappedStream wraps grpc.ServerStream to override Context().
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
