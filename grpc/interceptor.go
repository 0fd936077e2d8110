package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	acc "github.com/panyam/accounts"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key and verifier configuration.
	*Config

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	// RequiredRoles maps full method names to a role the caller must hold
	RequiredRoles map[string]acc.Role
}

// NewInterceptorConfig returns a config that requires auth for all methods.
func NewInterceptorConfig(config *Config, publicMethods ...string) *InterceptorConfig {
	out := &InterceptorConfig{
		Config:        config,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
		RequiredRoles: make(map[string]acc.Role),
	}
	for _, method := range publicMethods {
		out.PublicMethods[method] = true
	}
	return out
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(config *Config) *InterceptorConfig {
	out := NewInterceptorConfig(config)
	out.RequireAuth = false
	return out
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = &Config{}
	}
	c.Config.EnsureDefaults()
}

// authorize verifies the caller and returns the context to hand to the handler
func (c *InterceptorConfig) authorize(ctx context.Context, method string) (context.Context, error) {
	info := c.extractAuthInfo(ctx)
	if info != nil {
		ctx = WithAuthInfo(ctx, info)
	}

	if c.RequireAuth && !c.PublicMethods[method] && info == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if role, ok := c.RequiredRoles[method]; ok {
		if info == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		if !info.HasRole(role) {
			return nil, status.Errorf(codes.PermissionDenied, "role %s required", role)
		}
	}
	return ctx, nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that verifies the session token.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := config.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authServerStream overrides the stream context with the verified one
type authServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authServerStream) Context() context.Context {
	return s.ctx
}

// StreamAuthInterceptor returns a gRPC stream interceptor that verifies the session token.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authServerStream{ServerStream: ss, ctx: ctx})
	}
}

// extractAuthInfo verifies the incoming token.  Invalid tokens are treated as absent.
func (c *InterceptorConfig) extractAuthInfo(ctx context.Context) *AuthInfo {
	if c.Config.Verify == nil {
		return nil
	}
	token := tokenFromIncoming(ctx, c.Config.MetadataKeyAuthorization)
	if token == "" {
		return nil
	}
	userID, claims, err := c.Config.Verify(ctx, token)
	if err != nil || userID == "" {
		return nil
	}
	info := &AuthInfo{UserID: userID}
	if claims != nil {
		info.Roles = claims.Roles
	}
	return info
}
