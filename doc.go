// Package accounts provides user registration, sign-in and password recovery for
// Go web applications.
//
// # Architecture
//
// UserManager: owns accounts and their credentials. It validates emails and
// password policy, hashes passwords, issues single-use confirmation and reset
// tokens, and tracks failed sign-ins for lockout. Rejections come back as
// IdentityResult values; a returned error always means the infrastructure failed.
//
// SignInManager: turns a checked password into an scs session plus a signed
// session JWT, and tears both down on sign-out. Tokens carry the user's security
// stamp; rotating it on sign-out or password reset revokes every earlier token.
//
// RecoveryFlow: the forgot-password / reset-password state machine
// (Idle -> RequestSent -> Resetting -> Completed). It never reveals whether an
// email belongs to an account.
//
// AccountController: the HTML pages under /Account, protected by a per-session
// anti-forgery token.
//
// # Basic Usage
//
// Set up stores for users and tokens:
//
//	import (
//	    "github.com/panyam/accounts"
//	    "github.com/panyam/accounts/stores"
//	)
//
//	storagePath := "/path/to/storage"
//	app := &accounts.Accounts{
//	    UserStore:    stores.NewFSUserStore(storagePath),
//	    TokenStore:   stores.NewFSTokenStore(storagePath),
//	    EmailSender:  &accounts.ConsoleEmailSender{},
//	    BaseURL:      "https://yourapp.com",
//	    JWTSecretKey: os.Getenv("ACCOUNTS_JWT_SECRET_KEY"),
//	}
//	handler, err := app.Handler()
//
// Router returns the underlying gorilla/mux router so applications can add their
// own routes, and app.Middleware.EnsureUser guards pages that need a signed-in user.
//
// # Store Implementations
//
// The stores package keeps JSON files on disk, suitable for development and small
// deployments. stores/gorm (Postgres), stores/gae (Cloud Datastore) and
// stores/redis (tokens and the reset rate limiter) cover larger ones.
//
// # Security
//
// Passwords are hashed with bcrypt or argon2id; hashes of the other scheme are
// verified and upgraded on the next sign-in. Reset and confirmation tokens are
// 32 random bytes, hex-encoded, and only their SHA-256 digest is stored. Tokens
// expire (1 hour for reset, 24 hours for confirmation) and are consumed atomically.
package accounts
