// Package config loads accountsd configuration.  Values come from flag defaults,
// then an optional YAML file, then flags explicitly set on the command line.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	acc "github.com/panyam/accounts"
)

// Store drivers
const (
	DriverFS   = "fs"
	DriverGorm = "gorm"
	DriverGAE  = "gae"
)

// Email providers
const (
	EmailConsole  = "console"
	EmailSendGrid = "sendgrid"
)

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type StoreConfig struct {
	Driver    string `koanf:"driver"`
	Path      string `koanf:"path"`
	DSN       string `koanf:"dsn"`
	Project   string `koanf:"project"`
	Namespace string `koanf:"namespace"`
}

type RedisConfig struct {
	// Empty disables the redis token store and the reset limiter
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type SessionConfig struct {
	Lifetime     time.Duration `koanf:"lifetime"`
	SecureCookie bool          `koanf:"secure_cookie"`
}

type JWTConfig struct {
	Secret string `koanf:"secret"`
	Issuer string `koanf:"issuer"`
}

type SignInConfig struct {
	LockoutOnFailure      bool `koanf:"lockout_on_failure"`
	RequireConfirmedEmail bool `koanf:"require_confirmed_email"`
	SendConfirmationEmail bool `koanf:"send_confirmation_email"`
}

type LockoutConfig struct {
	MaxFailedAttempts int           `koanf:"max_failed_attempts"`
	Duration          time.Duration `koanf:"duration"`
}

type PasswordConfig struct {
	RequiredLength         int    `koanf:"required_length"`
	RequiredUniqueChars    int    `koanf:"required_unique_chars"`
	RequireDigit           bool   `koanf:"require_digit"`
	RequireLowercase       bool   `koanf:"require_lowercase"`
	RequireUppercase       bool   `koanf:"require_uppercase"`
	RequireNonAlphanumeric bool   `koanf:"require_non_alphanumeric"`
	Hasher                 string `koanf:"hasher"`
}

type TokensConfig struct {
	ResetExpiry   time.Duration `koanf:"reset_expiry"`
	ConfirmExpiry time.Duration `koanf:"confirm_expiry"`

	// How often expired tokens are swept from stores without native expiry.  Zero disables.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

type RateLimitConfig struct {
	// Reset requests allowed per email per window.  Zero disables limiting.
	ResetRequests int           `koanf:"reset_requests"`
	Window        time.Duration `koanf:"window"`
}

type EmailConfig struct {
	Provider    string `koanf:"provider"`
	From        string `koanf:"from"`
	FromName    string `koanf:"from_name"`
	SendGridKey string `koanf:"sendgrid_key"`
}

// Config is the full accountsd configuration
type Config struct {
	Addr        string          `koanf:"addr"`
	GRPCAddr    string          `koanf:"grpc_addr"`
	MetricsAddr string          `koanf:"metrics_addr"`
	BaseURL     string          `koanf:"base_url"`
	Log         LogConfig       `koanf:"log"`
	Store       StoreConfig     `koanf:"store"`
	Redis       RedisConfig     `koanf:"redis"`
	Session     SessionConfig   `koanf:"session"`
	JWT         JWTConfig       `koanf:"jwt"`
	SignIn      SignInConfig    `koanf:"signin"`
	Lockout     LockoutConfig   `koanf:"lockout"`
	Password    PasswordConfig  `koanf:"password"`
	Tokens      TokensConfig    `koanf:"tokens"`
	RateLimit   RateLimitConfig `koanf:"ratelimit"`
	Email       EmailConfig     `koanf:"email"`
}

// RegisterFlags adds every configuration key to fs with its default value
func RegisterFlags(fs *pflag.FlagSet) {
	pw := acc.DefaultPasswordOptions()
	lockout := acc.DefaultLockoutOptions()

	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("grpc_addr", "", "gRPC listen address; empty disables the gRPC server")
	fs.String("metrics_addr", "", "separate listen address for /metrics; empty serves it on addr")
	fs.String("base_url", "http://localhost:8080", "absolute base URL used in emailed links")

	fs.String("log.format", "json", "log format: json or text")
	fs.String("log.level", "info", "minimum log level")

	fs.String("store.driver", DriverFS, "user and token store: fs, gorm or gae")
	fs.String("store.path", "./data", "directory for the fs store")
	fs.String("store.dsn", "", "postgres DSN for the gorm store")
	fs.String("store.project", "", "GCP project for the gae store")
	fs.String("store.namespace", "", "datastore namespace for the gae store")

	fs.String("redis.addr", "", "redis address; enables the redis token store and reset limiter")
	fs.String("redis.password", "", "redis password")
	fs.Int("redis.db", 0, "redis database")
	fs.String("redis.prefix", "acct", "redis key prefix")

	fs.Duration("session.lifetime", 24*time.Hour, "session lifetime")
	fs.Bool("session.secure_cookie", false, "mark session cookies Secure")

	fs.String("jwt.secret", "", "HS256 secret for session tokens")
	fs.String("jwt.issuer", "accounts", "issuer claim for session tokens")

	fs.Bool("signin.lockout_on_failure", false, "count failed logins toward lockout")
	fs.Bool("signin.require_confirmed_email", false, "refuse sign-in until the email is confirmed")
	fs.Bool("signin.send_confirmation_email", true, "email a confirmation link after registration")

	fs.Int("lockout.max_failed_attempts", lockout.MaxFailedAttempts, "failures before lockout")
	fs.Duration("lockout.duration", lockout.Duration, "lockout duration")

	fs.Int("password.required_length", pw.RequiredLength, "minimum password length")
	fs.Int("password.required_unique_chars", pw.RequiredUniqueChars, "minimum distinct characters")
	fs.Bool("password.require_digit", pw.RequireDigit, "require a digit")
	fs.Bool("password.require_lowercase", pw.RequireLowercase, "require a lower case letter")
	fs.Bool("password.require_uppercase", pw.RequireUppercase, "require an upper case letter")
	fs.Bool("password.require_non_alphanumeric", pw.RequireNonAlphanumeric, "require a symbol")
	fs.String("password.hasher", "bcrypt", "password hasher: bcrypt or argon2id")

	fs.Duration("tokens.reset_expiry", acc.TokenExpiryPasswordReset, "password reset token lifetime")
	fs.Duration("tokens.confirm_expiry", acc.TokenExpiryEmailConfirmation, "email confirmation token lifetime")
	fs.Duration("tokens.cleanup_interval", time.Hour, "expired token sweep interval; 0 disables")

	fs.Int("ratelimit.reset_requests", 5, "reset requests per email per window; 0 disables")
	fs.Duration("ratelimit.window", time.Hour, "reset request rate limit window")

	fs.String("email.provider", EmailConsole, "email transport: console or sendgrid")
	fs.String("email.from", "no-reply@localhost", "sender address")
	fs.String("email.from_name", "Accounts", "sender display name")
	fs.String("email.sendgrid_key", "", "SendGrid API key")
}

// Load reads the optional YAML file at path and overlays flags from fs.
// Flags left at their default only fill keys the file does not set.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrapf(err, "failed to read config file")
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "failed to read flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "failed to decode config")
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverFS:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the fs driver"))
		}
	case DriverGorm:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the gorm driver"))
		}
	case DriverGAE:
		if c.Store.Project == "" {
			errs = append(errs, errors.New("store.project is required for the gae driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Email.Provider {
	case EmailConsole:
	case EmailSendGrid:
		if c.Email.SendGridKey == "" {
			errs = append(errs, errors.New("email.sendgrid_key is required for the sendgrid provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown email.provider %q", c.Email.Provider))
	}

	switch c.Password.Hasher {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("unknown password.hasher %q", c.Password.Hasher))
	}

	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Session.Lifetime <= 0 {
		errs = append(errs, errors.New("session.lifetime must be positive"))
	}
	if c.Tokens.ResetExpiry <= 0 || c.Tokens.ConfirmExpiry <= 0 {
		errs = append(errs, errors.New("token expiries must be positive"))
	}
	if c.Tokens.CleanupInterval < 0 {
		errs = append(errs, errors.New("tokens.cleanup_interval must not be negative"))
	}
	if c.RateLimit.ResetRequests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.window must be positive when limiting"))
	}
	if c.Password.RequiredLength < 1 {
		errs = append(errs, errors.New("password.required_length must be at least 1"))
	}

	if len(errs) > 0 {
		return oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
	}
	return nil
}

// PasswordOptions converts the password section to the policy type
func (c *Config) PasswordOptions() acc.PasswordOptions {
	return acc.PasswordOptions{
		RequiredLength:         c.Password.RequiredLength,
		RequiredUniqueChars:    c.Password.RequiredUniqueChars,
		RequireDigit:           c.Password.RequireDigit,
		RequireLowercase:       c.Password.RequireLowercase,
		RequireUppercase:       c.Password.RequireUppercase,
		RequireNonAlphanumeric: c.Password.RequireNonAlphanumeric,
	}
}

// LockoutOptions converts the lockout section
func (c *Config) LockoutOptions() acc.LockoutOptions {
	return acc.LockoutOptions{
		MaxFailedAttempts: c.Lockout.MaxFailedAttempts,
		Duration:          c.Lockout.Duration,
	}
}

// Hasher returns the configured password hasher
func (c *Config) Hasher() acc.PasswordHasher {
	if c.Password.Hasher == "argon2id" {
		return &acc.Argon2idHasher{}
	}
	return &acc.BcryptHasher{}
}
