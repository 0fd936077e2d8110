package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	acc "github.com/panyam/accounts"
	"github.com/panyam/accounts/config"
	"github.com/panyam/accounts/senders"
	"github.com/panyam/accounts/stores"
	gaestore "github.com/panyam/accounts/stores/gae"
	gormstore "github.com/panyam/accounts/stores/gorm"
	redisstore "github.com/panyam/accounts/stores/redis"
)

// backends holds the stores built from configuration along with anything to close on shutdown
type backends struct {
	users   acc.UserStore
	tokens  acc.TokenStore
	limiter acc.RateLimiter
	closers []io.Closer
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			slog.Warn("error closing backend", "error", err)
		}
	}
}

// openBackends builds the user and token stores for the configured driver.  When
// redis is configured it takes over token storage and backs the reset limiter.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	switch cfg.Store.Driver {
	case config.DriverFS:
		b.users = stores.NewFSUserStore(cfg.Store.Path)
		b.tokens = stores.NewFSTokenStore(cfg.Store.Path)
	case config.DriverGorm:
		db, err := gormstore.OpenPostgres(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		b.users = gormstore.NewUserStore(db)
		b.tokens = gormstore.NewTokenStore(db)
		if sqlDB, err := db.DB(); err == nil {
			b.closers = append(b.closers, sqlDB)
		}
	case config.DriverGAE:
		client, err := datastore.NewClient(ctx, cfg.Store.Project)
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		b.users = gaestore.NewUserStore(client, cfg.Store.Namespace)
		b.tokens = gaestore.NewTokenStore(client, cfg.Store.Namespace)
		b.closers = append(b.closers, client)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b.closers = append(b.closers, client)
		b.tokens = redisstore.NewTokenStore(client, cfg.Redis.Prefix)
		if cfg.RateLimit.ResetRequests > 0 {
			b.limiter = redisstore.NewRateLimiter(client, cfg.Redis.Prefix, cfg.RateLimit.ResetRequests, cfg.RateLimit.Window)
		}
	}
	return b, nil
}

func newEmailSender(cfg *config.Config, logger *slog.Logger) acc.EmailSender {
	if cfg.Email.Provider == config.EmailSendGrid {
		sender := senders.NewSendGridSender(cfg.Email.SendGridKey, cfg.Email.FromName, cfg.Email.From)
		sender.Logger = logger
		return sender
	}
	return &acc.ConsoleEmailSender{Logger: logger}
}

// newAccounts assembles the account service from configuration
func newAccounts(cfg *config.Config, b *backends, reg prometheus.Registerer, logger *slog.Logger) *acc.Accounts {
	session := scs.New()
	session.Lifetime = cfg.Session.Lifetime
	session.Cookie.Name = "accounts_session"
	session.Cookie.HttpOnly = true
	session.Cookie.SameSite = http.SameSiteLaxMode
	session.Cookie.Secure = cfg.Session.SecureCookie

	return (&acc.Accounts{
		AppName:               "Accounts",
		UserStore:             b.users,
		TokenStore:            b.tokens,
		EmailSender:           newEmailSender(cfg, logger),
		ResetLimiter:          b.limiter,
		BaseURL:               cfg.BaseURL,
		Session:               session,
		JwtIssuer:             cfg.JWT.Issuer,
		JWTSecretKey:          cfg.JWT.Secret,
		SessionTimeout:        cfg.Session.Lifetime,
		LockoutOnFailure:      cfg.SignIn.LockoutOnFailure,
		RequireConfirmedEmail: cfg.SignIn.RequireConfirmedEmail,
		SendConfirmationEmail: cfg.SignIn.SendConfirmationEmail,
		Password:              cfg.PasswordOptions(),
		Lockout:               cfg.LockoutOptions(),
		Hasher:                cfg.Hasher(),
		ResetExpiry:           cfg.Tokens.ResetExpiry,
		ConfirmExpiry:         cfg.Tokens.ConfirmExpiry,
		Metrics:               acc.NewMetrics(reg),
		Logger:                logger,
	}).EnsureDefaults()
}
