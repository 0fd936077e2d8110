package accounts

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// Role is a tag assigned to a user.  Roles carry no behaviour of their own.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

var (
	// ErrUserNotFound is returned by stores and the UserManager when no user matches
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUser is returned by UserStore.CreateUser when the email is already registered
	ErrDuplicateUser = errors.New("user already exists")

	// ErrTokenNotFound is returned by TokenStore lookups for missing, expired or consumed tokens
	ErrTokenNotFound = errors.New("token not found")
)

// User represents a registered account.  The email doubles as the login name.
type User struct {
	ID                string     `json:"id"`
	UserName          string     `json:"user_name"`
	Email             string     `json:"email"`
	NormalizedEmail   string     `json:"normalized_email"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	EmailConfirmed    bool       `json:"email_confirmed"`
	PasswordHash      string     `json:"password_hash"`
	SecurityStamp     string     `json:"security_stamp"`
	Roles             []string   `json:"roles"`
	AccessFailedCount int        `json:"access_failed_count"`
	LockoutEnd        *time.Time `json:"lockout_end,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasRole returns true if the role has been assigned to the user
func (u *User) HasRole(role Role) bool {
	return slices.Contains(u.Roles, string(role))
}

// DisplayName returns "First Last", falling back to the email
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Clone returns a deep copy so stores never share mutable state with callers
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Roles = slices.Clone(u.Roles)
	if u.LockoutEnd != nil {
		t := *u.LockoutEnd
		out.LockoutEnd = &t
	}
	return &out
}

// NormalizeEmail produces the lookup key used for email uniqueness
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserStore persists user accounts
type UserStore interface {
	// CreateUser inserts a new user.  Returns ErrDuplicateUser if the normalized email is taken.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID.  Returns ErrUserNotFound if absent.
	GetUserByID(ctx context.Context, userID string) (*User, error)

	// GetUserByEmail retrieves a user by normalized email.  Returns ErrUserNotFound if absent.
	GetUserByEmail(ctx context.Context, normalizedEmail string) (*User, error)

	// SaveUser updates an existing user
	SaveUser(ctx context.Context, user *User) error
}

// TokenStore persists single-use reset and confirmation tokens.
// Tokens are addressed by their SHA-256 digest; plaintext values are never stored.
type TokenStore interface {
	// SaveToken stores a freshly issued token
	SaveToken(ctx context.Context, token *AuthToken) error

	// GetToken looks up a token without consuming it.  Expired tokens are removed and
	// reported as ErrTokenNotFound.
	GetToken(ctx context.Context, tokenHash string) (*AuthToken, error)

	// ConsumeToken atomically fetches and deletes a token.  Of any number of concurrent
	// callers at most one receives the token; the rest get ErrTokenNotFound.
	ConsumeToken(ctx context.Context, tokenHash string) (*AuthToken, error)

	// DeleteToken removes a token.  Deleting a missing token is not an error.
	DeleteToken(ctx context.Context, tokenHash string) error

	// DeleteUserTokens removes every token of the given type issued to a user
	DeleteUserTokens(ctx context.Context, userID string, tokenType TokenType) error
}

// ExpiredTokenCleaner is implemented by token stores that keep expired tokens until
// they are looked up.  Stores with native expiry, like Redis, do not need it.
type ExpiredTokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) error
}

// RateLimiter decides whether an action keyed by key may proceed
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
