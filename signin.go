package accounts

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Session keys
const (
	sessionUserIDKey    = "loggedInUserId"
	sessionAuthTokenKey = "authToken"
)

// Default name of the cookie carrying the session JWT
const DefaultAuthTokenCookieName = "AccountsAuthToken"

// SignInResult is the outcome of a password sign-in
type SignInResult struct {
	Succeeded    bool
	IsLockedOut  bool
	IsNotAllowed bool
}

func (r SignInResult) String() string {
	switch {
	case r.Succeeded:
		return "succeeded"
	case r.IsLockedOut:
		return "locked_out"
	case r.IsNotAllowed:
		return "not_allowed"
	}
	return "failed"
}

// SessionClaims are the claims of the JWT issued at sign-in
type SessionClaims struct {
	Roles []string `json:"roles,omitempty"`

	// The user's security stamp at sign-in.  Rotated on sign-out and password reset.
	SecurityStamp string `json:"sstamp,omitempty"`
	jwt.RegisteredClaims
}

// ErrStaleSession is returned for a well-formed session token whose security stamp
// no longer matches the user's
var ErrStaleSession = errors.New("session token no longer valid")

// SignInManager establishes and tears down authenticated sessions
type SignInManager struct {
	Users   *UserManager
	Session *scs.SessionManager

	JWTSecretKey string
	JWTIssuer    string

	// Lifetime of the issued JWT.  Defaults to the session lifetime.
	TokenLifetime time.Duration

	AuthTokenCookieName string

	// When set, users with unconfirmed emails cannot sign in
	RequireConfirmedEmail bool

	Metrics *Metrics
	Logger  *slog.Logger
}

func (s *SignInManager) EnsureDefaults() *SignInManager {
	if s.JWTIssuer == "" {
		s.JWTIssuer = "accounts"
	}
	if s.AuthTokenCookieName == "" {
		s.AuthTokenCookieName = DefaultAuthTokenCookieName
	}
	if s.TokenLifetime <= 0 {
		s.TokenLifetime = s.Session.Lifetime
		if s.TokenLifetime <= 0 {
			s.TokenLifetime = 24 * time.Hour
		}
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

// PasswordSignIn checks the credentials and signs the user in on success.
// Failures only count toward lockout when lockoutOnFailure is set.
func (s *SignInManager) PasswordSignIn(w http.ResponseWriter, r *http.Request, email, password string, rememberMe, lockoutOnFailure bool) (SignInResult, error) {
	s.EnsureDefaults()
	ctx := r.Context()

	user, err := s.Users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		s.Metrics.login("failed")
		return SignInResult{}, nil
	}
	if err != nil {
		return SignInResult{}, err
	}

	result, err := s.checkPasswordSignIn(ctx, user, password, lockoutOnFailure)
	if err != nil || !result.Succeeded {
		s.Metrics.login(result.String())
		return result, err
	}

	if err := s.SignIn(w, r, user, rememberMe); err != nil {
		return SignInResult{}, err
	}
	s.Metrics.login("succeeded")
	return result, nil
}

func (s *SignInManager) checkPasswordSignIn(ctx context.Context, user *User, password string, lockoutOnFailure bool) (SignInResult, error) {
	if s.RequireConfirmedEmail && !user.EmailConfirmed {
		s.Logger.Info("sign-in refused, email not confirmed", "user_id", user.ID)
		return SignInResult{IsNotAllowed: true}, nil
	}
	if s.Users.IsLockedOut(user) {
		s.Logger.Info("sign-in refused, user locked out", "user_id", user.ID)
		return SignInResult{IsLockedOut: true}, nil
	}

	ok, err := s.Users.CheckPassword(ctx, user, password)
	if err != nil {
		return SignInResult{}, err
	}
	if !ok {
		if lockoutOnFailure {
			if _, err := s.Users.AccessFailed(ctx, user); err != nil {
				return SignInResult{}, err
			}
			if s.Users.IsLockedOut(user) {
				return SignInResult{IsLockedOut: true}, nil
			}
		}
		return SignInResult{}, nil
	}

	if _, err := s.Users.ResetAccessFailedCount(ctx, user); err != nil {
		return SignInResult{}, err
	}
	return SignInResult{Succeeded: true}, nil
}

// SignIn starts an authenticated session for the user.  The session token is renewed
// first so a pre-login session id is never promoted.
func (s *SignInManager) SignIn(w http.ResponseWriter, r *http.Request, user *User, persistent bool) error {
	s.EnsureDefaults()
	ctx := r.Context()
	if err := s.Session.RenewToken(ctx); err != nil {
		return fmt.Errorf("failed to renew session: %w", err)
	}

	tokenString, expiresAt, err := s.issueToken(user)
	if err != nil {
		return err
	}

	s.Session.Put(ctx, sessionUserIDKey, user.ID)
	s.Session.Put(ctx, sessionAuthTokenKey, tokenString)
	s.Session.RememberMe(ctx, persistent)

	cookie := &http.Cookie{
		Name:     s.AuthTokenCookieName,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.Session.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		cookie.Expires = expiresAt
		cookie.MaxAge = int(time.Until(expiresAt).Seconds())
	}
	http.SetCookie(w, cookie)
	s.Logger.Info("user signed in", "user_id", user.ID, "persistent", persistent)
	return nil
}

func (s *SignInManager) issueToken(user *User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.TokenLifetime)
	claims := SessionClaims{
		Roles:         user.Roles,
		SecurityStamp: user.SecurityStamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.JWTSecretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error signing token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// SignOut ends the session and expires the auth cookie.  The user's security stamp is
// rotated so every session token issued to them so far stops verifying.
func (s *SignInManager) SignOut(w http.ResponseWriter, r *http.Request, userID string) error {
	s.EnsureDefaults()
	if userID == "" {
		userID = s.CurrentUserID(r)
	}
	if userID != "" {
		if err := s.Users.UpdateSecurityStamp(r.Context(), userID); err != nil && !errors.Is(err, ErrUserNotFound) {
			return err
		}
	}
	if err := s.Session.Destroy(r.Context()); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.AuthTokenCookieName,
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	if userID != "" {
		s.Logger.Info("user signed out", "user_id", userID)
	}
	return nil
}

// CurrentUserID returns the signed-in user's ID from the session, or ""
func (s *SignInManager) CurrentUserID(r *http.Request) string {
	return s.Session.GetString(r.Context(), sessionUserIDKey)
}

// SessionUserID returns the signed-in user's ID if the session's token is still
// valid, or ""
func (s *SignInManager) SessionUserID(r *http.Request) string {
	tokenString := s.Session.GetString(r.Context(), sessionAuthTokenKey)
	if tokenString == "" {
		return ""
	}
	userID, _, err := s.ValidateToken(r.Context(), tokenString)
	if err != nil {
		s.Logger.Debug("session token rejected", "error", err)
		return ""
	}
	return userID
}

// VerifyToken validates a session JWT's signature, issuer and expiry
func (s *SignInManager) VerifyToken(tokenString string) (string, *SessionClaims, error) {
	s.EnsureDefaults()
	return VerifySessionToken(tokenString, s.JWTSecretKey, s.JWTIssuer)
}

// ValidateToken verifies the token and checks its security stamp against the stored
// user, so tokens issued before a sign-out or password reset are rejected.
func (s *SignInManager) ValidateToken(ctx context.Context, tokenString string) (string, *SessionClaims, error) {
	userID, claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return "", nil, err
	}
	user, err := s.Users.FindByID(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if user.SecurityStamp == "" || subtle.ConstantTimeCompare([]byte(user.SecurityStamp), []byte(claims.SecurityStamp)) != 1 {
		return "", nil, ErrStaleSession
	}
	return userID, claims, nil
}

// VerifySessionToken validates an HS256 session JWT issued by a SignInManager
func VerifySessionToken(tokenString, secretKey, issuer string) (string, *SessionClaims, error) {
	claims := &SessionClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secretKey), nil
	}, opts...)
	if err != nil {
		return "", nil, err
	}
	if !token.Valid {
		return "", nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", nil, fmt.Errorf("subject not found")
	}
	return claims.Subject, claims, nil
}
