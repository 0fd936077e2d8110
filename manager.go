package accounts

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// LockoutOptions controls how failed sign-in attempts lock an account
type LockoutOptions struct {
	// Number of consecutive failures before the account is locked.  Zero disables lockout.
	MaxFailedAttempts int

	// How long a locked account stays locked
	Duration time.Duration
}

// DefaultLockoutOptions returns 5 attempts and a 5 minute lockout
func DefaultLockoutOptions() LockoutOptions {
	return LockoutOptions{MaxFailedAttempts: 5, Duration: 5 * time.Minute}
}

// UserManager owns user accounts and their credentials.  Rejections (weak password,
// duplicate email, bad token) are reported as IdentityResult values; a non-nil error
// always means a store or hashing failure.
type UserManager struct {
	Users  UserStore
	Tokens TokenStore

	// Defaults to BcryptHasher
	Hasher PasswordHasher

	Password PasswordOptions
	Lockout  LockoutOptions

	ResetTokenExpiry   time.Duration
	ConfirmTokenExpiry time.Duration

	Logger *slog.Logger

	// Overridable clock for tests
	Now func() time.Time
}

// NewUserManager creates a UserManager with default policies
func NewUserManager(users UserStore, tokens TokenStore) *UserManager {
	return (&UserManager{Users: users, Tokens: tokens}).EnsureDefaults()
}

// EnsureDefaults fills in zero-valued options
func (m *UserManager) EnsureDefaults() *UserManager {
	if m.Hasher == nil {
		m.Hasher = &BcryptHasher{}
	}
	if m.Password == (PasswordOptions{}) {
		m.Password = DefaultPasswordOptions()
	}
	if m.Lockout == (LockoutOptions{}) {
		m.Lockout = DefaultLockoutOptions()
	}
	if m.ResetTokenExpiry <= 0 {
		m.ResetTokenExpiry = TokenExpiryPasswordReset
	}
	if m.ConfirmTokenExpiry <= 0 {
		m.ConfirmTokenExpiry = TokenExpiryEmailConfirmation
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	if m.Now == nil {
		m.Now = time.Now
	}
	return m
}

// FindByEmail looks a user up by email.  Returns ErrUserNotFound when no account matches.
func (m *UserManager) FindByEmail(ctx context.Context, email string) (*User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrUserNotFound
	}
	user, err := m.Users.GetUserByEmail(ctx, normalized)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_STORE_FAILED").With("operation", "get_by_email").Wrap(err)
	}
	return user, nil
}

// FindByID looks a user up by ID.  Returns ErrUserNotFound when no account matches.
func (m *UserManager) FindByID(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	user, err := m.Users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_STORE_FAILED").With("operation", "get_by_id").Wrap(err)
	}
	return user, nil
}

// IsEmailConfirmed reports whether the user has confirmed their email address
func (m *UserManager) IsEmailConfirmed(ctx context.Context, user *User) (bool, error) {
	if user == nil {
		return false, ErrUserNotFound
	}
	return user.EmailConfirmed, nil
}

// ValidEmail reports whether the address parses as a bare RFC 5322 address
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, "@")
}

// CreateUser validates and persists a new account with the given password.
// user.Email must be set; ID, UserName, stamps and timestamps are assigned here.
func (m *UserManager) CreateUser(ctx context.Context, user *User, password string) (IdentityResult, error) {
	m.EnsureDefaults()
	if user == nil {
		return IdentityResult{}, oops.Code("USER_INVALID").Errorf("user is nil")
	}

	email := strings.TrimSpace(user.Email)
	if !ValidEmail(email) {
		return Failed(errInvalidEmail(user.Email)), nil
	}

	var errs []IdentityError
	_, err := m.Users.GetUserByEmail(ctx, NormalizeEmail(email))
	switch {
	case err == nil:
		errs = append(errs, errDuplicateUserName(email), errDuplicateEmail(email))
	case !errors.Is(err, ErrUserNotFound):
		return IdentityResult{}, oops.Code("USER_STORE_FAILED").With("operation", "get_by_email").Wrap(err)
	}

	errs = append(errs, m.Password.Validate(password)...)
	if len(errs) > 0 {
		return Failed(errs...), nil
	}

	hash, err := m.Hasher.Hash(password)
	if err != nil {
		return IdentityResult{}, oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}

	now := m.Now()
	user.ID = uuid.NewString()
	user.Email = email
	user.UserName = email
	user.NormalizedEmail = NormalizeEmail(email)
	user.PasswordHash = hash
	user.SecurityStamp = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	if err := m.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return Failed(errDuplicateEmail(email)), nil
		}
		return IdentityResult{}, oops.Code("USER_STORE_FAILED").With("operation", "create").Wrap(err)
	}

	m.Logger.Info("user created", "user_id", user.ID)
	return Success(), nil
}

// AddToRole assigns a role to the user
func (m *UserManager) AddToRole(ctx context.Context, user *User, role Role) (IdentityResult, error) {
	if user.HasRole(role) {
		return Failed(errUserAlreadyInRole(role)), nil
	}
	user.Roles = append(user.Roles, string(role))
	if err := m.save(ctx, user, "add_to_role"); err != nil {
		return IdentityResult{}, err
	}
	return Success(), nil
}

// IsInRole reports whether the role is assigned to the user
func (m *UserManager) IsInRole(user *User, role Role) bool {
	return user != nil && user.HasRole(role)
}

// CheckPassword verifies a password.  A matching password stored under a different
// hashing scheme is transparently rehashed with the configured hasher.
func (m *UserManager) CheckPassword(ctx context.Context, user *User, password string) (bool, error) {
	m.EnsureDefaults()
	if user == nil || user.PasswordHash == "" {
		return false, nil
	}
	ok, err := m.Hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return false, oops.Code("PASSWORD_HASH_FAILED").With("user_id", user.ID).Wrap(err)
	}
	if !ok {
		return false, nil
	}

	if m.Hasher.NeedsRehash(user.PasswordHash) {
		if hash, err := m.Hasher.Hash(password); err == nil {
			user.PasswordHash = hash
			if err := m.save(ctx, user, "rehash"); err != nil {
				m.Logger.Warn("failed to persist rehashed password", "user_id", user.ID, "error", err)
			}
		}
	}
	return true, nil
}

// GeneratePasswordResetToken issues a single-use reset token for the user
func (m *UserManager) GeneratePasswordResetToken(ctx context.Context, user *User) (string, error) {
	m.EnsureDefaults()
	return m.issueToken(ctx, user, TokenTypePasswordReset, m.ResetTokenExpiry)
}

// GenerateEmailConfirmationToken issues a single-use email confirmation token for the user
func (m *UserManager) GenerateEmailConfirmationToken(ctx context.Context, user *User) (string, error) {
	m.EnsureDefaults()
	return m.issueToken(ctx, user, TokenTypeEmailConfirmation, m.ConfirmTokenExpiry)
}

func (m *UserManager) issueToken(ctx context.Context, user *User, tokenType TokenType, expiry time.Duration) (string, error) {
	if user == nil {
		return "", ErrUserNotFound
	}
	token, err := NewAuthToken(user.ID, user.Email, tokenType, expiry)
	if err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	if err := m.Tokens.SaveToken(ctx, token); err != nil {
		return "", oops.Code("TOKEN_STORE_FAILED").With("operation", "save").With("type", string(tokenType)).Wrap(err)
	}
	return token.Token, nil
}

// lookupToken returns the stored token if it is valid for the user and purpose.
// A nil token with a nil error means the token is not acceptable.
func (m *UserManager) lookupToken(ctx context.Context, user *User, token string, tokenType TokenType) (*AuthToken, error) {
	if user == nil || token == "" {
		return nil, nil
	}
	stored, err := m.Tokens.GetToken(ctx, HashToken(token))
	if errors.Is(err, ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("TOKEN_STORE_FAILED").With("operation", "get").Wrap(err)
	}
	if !stored.IsValid(tokenType, user.ID) {
		return nil, nil
	}
	return stored, nil
}

// consumeToken claims the token.  Returns false if another caller got there first.
func (m *UserManager) consumeToken(ctx context.Context, token string) (bool, error) {
	_, err := m.Tokens.ConsumeToken(ctx, HashToken(token))
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("TOKEN_STORE_FAILED").With("operation", "consume").Wrap(err)
	}
	return true, nil
}

// ResetPassword sets a new password using a reset token.  The token is consumed only
// when the new password passes the policy, so a rejected password can be retried with
// the same link.
func (m *UserManager) ResetPassword(ctx context.Context, user *User, token, newPassword string) (IdentityResult, error) {
	m.EnsureDefaults()
	stored, err := m.lookupToken(ctx, user, token, TokenTypePasswordReset)
	if err != nil {
		return IdentityResult{}, err
	}
	if stored == nil {
		return Failed(errInvalidToken()), nil
	}

	if errs := m.Password.Validate(newPassword); len(errs) > 0 {
		return Failed(errs...), nil
	}

	hash, err := m.Hasher.Hash(newPassword)
	if err != nil {
		return IdentityResult{}, oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}

	claimed, err := m.consumeToken(ctx, token)
	if err != nil {
		return IdentityResult{}, err
	}
	if !claimed {
		return Failed(errInvalidToken()), nil
	}

	user.PasswordHash = hash
	user.SecurityStamp = uuid.NewString()
	user.AccessFailedCount = 0
	user.LockoutEnd = nil
	if err := m.save(ctx, user, "reset_password"); err != nil {
		// The password did not change, so the link must keep working
		if rerr := m.Tokens.SaveToken(ctx, stored); rerr != nil {
			m.Logger.Error("failed to restore reset token", "user_id", user.ID, "error", rerr)
		}
		return IdentityResult{}, err
	}

	// Outstanding links for this user die with the password they were meant to replace
	if err := m.Tokens.DeleteUserTokens(ctx, user.ID, TokenTypePasswordReset); err != nil {
		m.Logger.Warn("failed to delete outstanding reset tokens", "user_id", user.ID, "error", err)
	}
	m.Logger.Info("password reset", "user_id", user.ID)
	return Success(), nil
}

// ConfirmEmail marks the user's email as confirmed using a confirmation token
func (m *UserManager) ConfirmEmail(ctx context.Context, user *User, token string) (IdentityResult, error) {
	stored, err := m.lookupToken(ctx, user, token, TokenTypeEmailConfirmation)
	if err != nil {
		return IdentityResult{}, err
	}
	if stored == nil {
		return Failed(errInvalidToken()), nil
	}
	claimed, err := m.consumeToken(ctx, token)
	if err != nil {
		return IdentityResult{}, err
	}
	if !claimed {
		return Failed(errInvalidToken()), nil
	}

	user.EmailConfirmed = true
	if err := m.save(ctx, user, "confirm_email"); err != nil {
		return IdentityResult{}, err
	}
	return Success(), nil
}

// IsLockedOut reports whether the user is currently locked out
func (m *UserManager) IsLockedOut(user *User) bool {
	m.EnsureDefaults()
	return user != nil && user.LockoutEnd != nil && user.LockoutEnd.After(m.Now())
}

// AccessFailed records a failed sign-in, locking the account once the configured
// number of attempts is reached.
func (m *UserManager) AccessFailed(ctx context.Context, user *User) (IdentityResult, error) {
	m.EnsureDefaults()
	user.AccessFailedCount++
	if m.Lockout.MaxFailedAttempts > 0 && user.AccessFailedCount >= m.Lockout.MaxFailedAttempts {
		end := m.Now().Add(m.Lockout.Duration)
		user.LockoutEnd = &end
		user.AccessFailedCount = 0
		m.Logger.Info("user locked out", "user_id", user.ID, "until", end)
	}
	if err := m.save(ctx, user, "access_failed"); err != nil {
		return IdentityResult{}, err
	}
	return Success(), nil
}

// ResetAccessFailedCount clears the failed attempt counter
func (m *UserManager) ResetAccessFailedCount(ctx context.Context, user *User) (IdentityResult, error) {
	if user.AccessFailedCount == 0 && user.LockoutEnd == nil {
		return Success(), nil
	}
	user.AccessFailedCount = 0
	user.LockoutEnd = nil
	if err := m.save(ctx, user, "reset_access_failed"); err != nil {
		return IdentityResult{}, err
	}
	return Success(), nil
}

// UpdateSecurityStamp rotates the user's security stamp, invalidating every
// session token issued before it
func (m *UserManager) UpdateSecurityStamp(ctx context.Context, userID string) error {
	user, err := m.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	user.SecurityStamp = uuid.NewString()
	return m.save(ctx, user, "update_security_stamp")
}

func (m *UserManager) save(ctx context.Context, user *User, operation string) error {
	m.EnsureDefaults()
	user.UpdatedAt = m.Now()
	if err := m.Users.SaveUser(ctx, user); err != nil {
		return oops.Code("USER_STORE_FAILED").With("operation", operation).With("user_id", user.ID).Wrap(err)
	}
	return nil
}
