package accounts

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Accounts wires the stores, managers and the account pages into one http.Handler
type Accounts struct {
	router  *mux.Router
	handler http.Handler

	// Optional name used for the issuer and cookie names
	AppName string

	// Must be passed in
	UserStore  UserStore
	TokenStore TokenStore

	// Defaults to a ConsoleEmailSender
	EmailSender EmailSender

	// Optional limiter for password reset requests
	ResetLimiter RateLimiter

	// Absolute base URL used in emailed links
	BaseURL string

	Session *scs.SessionManager

	// JWT related fields
	JwtIssuer    string
	JWTSecretKey string

	// How long is a session valid for.  Defaults to 1 day
	SessionTimeout time.Duration

	LockoutOnFailure      bool
	RequireConfirmedEmail bool
	SendConfirmationEmail bool

	Password      PasswordOptions
	Lockout       LockoutOptions
	Hasher        PasswordHasher
	ResetExpiry   time.Duration
	ConfirmExpiry time.Duration

	Metrics *Metrics
	Logger  *slog.Logger

	Users       *UserManager
	SignIn      *SignInManager
	Recovery    *RecoveryFlow
	Controller  *AccountController
	Middleware  *Middleware
	Antiforgery *Antiforgery
}

func New(appName string) *Accounts {
	return &Accounts{AppName: appName}
}

func (a *Accounts) EnsureDefaults() *Accounts {
	if a.AppName == "" {
		a.AppName = "Accounts"
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.SessionTimeout <= 0 {
		a.SessionTimeout = 24 * time.Hour
	}
	if a.JwtIssuer == "" {
		a.JwtIssuer = fmt.Sprintf("%s-Issuer", a.AppName)
	}
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("ACCOUNTS_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			a.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if a.Session == nil {
		a.Session = scs.New()
		a.Session.Lifetime = a.SessionTimeout
		a.Session.Cookie.HttpOnly = true
		a.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	if a.EmailSender == nil {
		a.EmailSender = &ConsoleEmailSender{Logger: a.Logger}
	}
	if a.Users == nil {
		a.Users = (&UserManager{
			Users:              a.UserStore,
			Tokens:             a.TokenStore,
			Hasher:             a.Hasher,
			Password:           a.Password,
			Lockout:            a.Lockout,
			ResetTokenExpiry:   a.ResetExpiry,
			ConfirmTokenExpiry: a.ConfirmExpiry,
			Logger:             a.Logger,
		}).EnsureDefaults()
	}
	if a.SignIn == nil {
		a.SignIn = (&SignInManager{
			Users:                 a.Users,
			Session:               a.Session,
			JWTSecretKey:          a.JWTSecretKey,
			JWTIssuer:             a.JwtIssuer,
			AuthTokenCookieName:   a.AppName + "AuthToken",
			RequireConfirmedEmail: a.RequireConfirmedEmail,
			Metrics:               a.Metrics,
			Logger:                a.Logger,
		}).EnsureDefaults()
	}
	if a.Recovery == nil {
		a.Recovery = &RecoveryFlow{
			Users:     a.Users,
			Email:     a.EmailSender,
			ResetLink: ResetLinkFunc(a.BaseURL),
			Limiter:   a.ResetLimiter,
			Metrics:   a.Metrics,
			Logger:    a.Logger,
		}
	}
	if a.Middleware == nil {
		a.Middleware = &Middleware{
			AuthTokenCookieName: a.SignIn.AuthTokenCookieName,
			SessionGetter: func(r *http.Request, param string) any {
				return a.SignIn.SessionUserID(r)
			},
			GetRedirURL: func(r *http.Request) string { return PathLogin },
			VerifyToken: a.SignIn.ValidateToken,
			Logger:      a.Logger,
		}
		a.Middleware.EnsureReasonableDefaults()
	}
	if a.Antiforgery == nil {
		a.Antiforgery = &Antiforgery{Session: a.Session, Logger: a.Logger}
	}
	return a
}

// Router returns the router serving the account pages.  Applications may add
// their own routes to it before calling Handler.
func (a *Accounts) Router() (*mux.Router, error) {
	if a.router != nil {
		return a.router, nil
	}
	a.EnsureDefaults()
	if a.Controller == nil {
		views, err := LoadViews()
		if err != nil {
			return nil, err
		}
		views.Logger = a.Logger
		a.Controller = &AccountController{
			Users:            a.Users,
			SignIn:           a.SignIn,
			Recovery:         a.Recovery,
			BaseURL:          a.BaseURL,
			LockoutOnFailure: a.LockoutOnFailure,
			Antiforgery:      a.Antiforgery,
			Middleware:       a.Middleware,
			Views:            views,
			Metrics:          a.Metrics,
			Logger:           a.Logger,
		}
		if a.SendConfirmationEmail {
			a.Controller.Email = a.EmailSender
		}
	}

	router := mux.NewRouter()
	router.Use(a.Antiforgery.Protect)
	router.Use(a.Middleware.ExtractUser)
	a.Controller.RegisterRoutes(router)
	a.router = router
	return router, nil
}

// Handler returns the full handler with session loading applied
func (a *Accounts) Handler() (http.Handler, error) {
	if a.handler != nil {
		return a.handler, nil
	}
	router, err := a.Router()
	if err != nil {
		return nil, err
	}
	a.handler = a.Session.LoadAndSave(router)
	return a.handler, nil
}
