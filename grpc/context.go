// Package grpc carries the signed-in account into gRPC services.  Clients attach
// the session JWT issued at sign-in as "authorization: Bearer <jwt>" metadata; the
// server interceptors verify it and expose the user on the context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	acc "github.com/panyam/accounts"
)

// DefaultMetadataKeyAuthorization is the gRPC metadata key carrying the session token
const DefaultMetadataKeyAuthorization = "authorization"

// TokenVerifier validates a session token and returns its subject and claims.
// SignInManager.ValidateToken is the usual choice as it also rejects tokens issued
// before the user's last sign-out or password reset.
type TokenVerifier func(ctx context.Context, token string) (userID string, claims *acc.SessionClaims, err error)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization is the gRPC metadata key for the session token.
	// Defaults to "authorization".
	MetadataKeyAuthorization string

	// Verify validates tokens.  Required.
	Verify TokenVerifier
}

// NewConfig returns a config verifying HS256 tokens signed with secretKey.  It checks
// signature, issuer and expiry only; use NewSignInConfig to also honour revocation.
func NewConfig(secretKey, issuer string) *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		Verify: func(_ context.Context, token string) (string, *acc.SessionClaims, error) {
			return acc.VerifySessionToken(token, secretKey, issuer)
		},
	}
}

// NewSignInConfig returns a config validating tokens against the stored user's
// security stamp
func NewSignInConfig(signIn *acc.SignInManager) *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		Verify:                   signIn.ValidateToken,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

type authContextKey struct{}

// AuthInfo is the verified identity attached to a request context
type AuthInfo struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the role is among the token's roles
func (a *AuthInfo) HasRole(role acc.Role) bool {
	for _, r := range a.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// WithAuthInfo returns a context carrying the auth info
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey{}, info)
}

// AuthInfoFromContext returns the verified identity or nil
func AuthInfoFromContext(ctx context.Context) *AuthInfo {
	info, _ := ctx.Value(authContextKey{}).(*AuthInfo)
	return info
}

// UserIDFromContext returns the authenticated user ID.
// Returns empty string if no user is authenticated.
func UserIDFromContext(ctx context.Context) string {
	if info := AuthInfoFromContext(ctx); info != nil {
		return info.UserID
	}
	return ""
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// TokenToOutgoingContext adds the session token to outgoing gRPC context metadata.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return TokenToOutgoingContextWithKey(ctx, token, DefaultMetadataKeyAuthorization)
}

// TokenToOutgoingContextWithKey adds the session token with a custom key.
func TokenToOutgoingContextWithKey(ctx context.Context, token string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, "Bearer "+token)
}

// tokenFromIncoming returns the bearer token from incoming metadata
func tokenFromIncoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	token := strings.TrimSpace(values[0])
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
