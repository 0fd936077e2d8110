package accounts_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	acc "github.com/panyam/accounts"
)

func TestCreateUser(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	user := &acc.User{Email: " Alice@Example.com ", FirstName: "Alice"}
	result, err := env.Mgr.CreateUser(ctx, user, testPassword)
	if err != nil || !result.Succeeded {
		t.Fatalf("CreateUser = %v, %v", result, err)
	}
	if user.ID == "" || user.SecurityStamp == "" {
		t.Error("Expected ID and security stamp to be assigned")
	}
	if user.UserName != "Alice@Example.com" || user.NormalizedEmail != "alice@example.com" {
		t.Errorf("Unexpected names %q / %q", user.UserName, user.NormalizedEmail)
	}
	if user.PasswordHash == "" || strings.Contains(user.PasswordHash, testPassword) {
		t.Error("Password should be stored hashed")
	}

	found, err := env.Mgr.FindByEmail(ctx, "ALICE@example.com")
	if err != nil || found.ID != user.ID {
		t.Fatalf("FindByEmail = %v, %v", found, err)
	}
	if confirmed, _ := env.Mgr.IsEmailConfirmed(ctx, found); confirmed {
		t.Error("New users should not be confirmed")
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "alice@example.com", false)

	result, err := env.Mgr.CreateUser(context.Background(), &acc.User{Email: "ALICE@example.com"}, testPassword)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if result.Succeeded || !result.HasCode(acc.ErrCodeDuplicateEmail) {
		t.Fatalf("Expected DuplicateEmail, got %v", result)
	}
	found := false
	for _, msg := range result.Messages() {
		if strings.HasPrefix(msg, "DuplicateEmail ") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a 'DuplicateEmail ...' message in %v", result.Messages())
	}
}

func TestCreateUser_Rejections(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	result, _ := env.Mgr.CreateUser(ctx, &acc.User{Email: "not-an-email"}, testPassword)
	if !result.HasCode(acc.ErrCodeInvalidEmail) {
		t.Errorf("Expected InvalidEmail, got %v", result)
	}

	result, _ = env.Mgr.CreateUser(ctx, &acc.User{Email: "bob@example.com"}, "weak")
	if result.Succeeded || len(result.Errors) < 2 {
		t.Errorf("Expected every policy failure to be reported, got %v", result)
	}
	if _, err := env.Mgr.FindByEmail(ctx, "bob@example.com"); err != acc.ErrUserNotFound {
		t.Errorf("Rejected user should not be stored, got %v", err)
	}
}

func TestAddToRole(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", false)

	if result, err := env.Mgr.AddToRole(ctx, user, acc.RoleUser); err != nil || !result.Succeeded {
		t.Fatalf("AddToRole = %v, %v", result, err)
	}
	reloaded, _ := env.Mgr.FindByID(ctx, user.ID)
	if !env.Mgr.IsInRole(reloaded, acc.RoleUser) {
		t.Error("Role should be persisted")
	}
	if env.Mgr.IsInRole(reloaded, acc.RoleAdmin) {
		t.Error("Admin role should not be assigned")
	}

	result, _ := env.Mgr.AddToRole(ctx, reloaded, acc.RoleUser)
	if !result.HasCode(acc.ErrCodeUserAlreadyInRole) {
		t.Errorf("Expected UserAlreadyInRole, got %v", result)
	}
}

func TestCheckPassword_RehashesOtherScheme(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	legacy := (&acc.UserManager{
		Users:  env.Users,
		Tokens: env.Tokens,
		Hasher: &acc.Argon2idHasher{},
		Logger: quietLogger,
	}).EnsureDefaults()
	user := &acc.User{Email: "alice@example.com"}
	if result, err := legacy.CreateUser(ctx, user, testPassword); err != nil || !result.Succeeded {
		t.Fatalf("CreateUser = %v, %v", result, err)
	}

	if ok, _ := env.Mgr.CheckPassword(ctx, user, "Wrong0ne!"); ok {
		t.Error("Wrong password accepted")
	}
	ok, err := env.Mgr.CheckPassword(ctx, user, testPassword)
	if err != nil || !ok {
		t.Fatalf("CheckPassword = %v, %v", ok, err)
	}

	reloaded, _ := env.Mgr.FindByID(ctx, user.ID)
	if !strings.HasPrefix(reloaded.PasswordHash, "$2") {
		t.Errorf("Expected bcrypt rehash, got %q", reloaded.PasswordHash)
	}
}

func TestResetPassword_Manager(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", true)
	oldStamp := user.SecurityStamp

	first, _ := env.Mgr.GeneratePasswordResetToken(ctx, user)
	second, _ := env.Mgr.GeneratePasswordResetToken(ctx, user)

	result, err := env.Mgr.ResetPassword(ctx, user, first, "N3w-Passw0rd")
	if err != nil || !result.Succeeded {
		t.Fatalf("ResetPassword = %v, %v", result, err)
	}
	if user.SecurityStamp == oldStamp {
		t.Error("Security stamp should rotate on password change")
	}
	if ok, _ := env.Mgr.CheckPassword(ctx, user, "N3w-Passw0rd"); !ok {
		t.Error("New password should work")
	}

	// Other outstanding links die with the old password
	result, _ = env.Mgr.ResetPassword(ctx, user, second, "An0ther-Pass")
	if !result.HasCode(acc.ErrCodeInvalidToken) {
		t.Errorf("Expected InvalidToken for outstanding link, got %v", result)
	}
}

// failingSaveStore rejects every SaveUser
type failingSaveStore struct {
	acc.UserStore
}

func (failingSaveStore) SaveUser(ctx context.Context, user *acc.User) error {
	return errors.New("disk full")
}

func TestResetPassword_SaveFailureKeepsLink(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", true)
	code, _ := env.Mgr.GeneratePasswordResetToken(ctx, user)

	broken := (&acc.UserManager{
		Users:  failingSaveStore{env.Users},
		Tokens: env.Tokens,
		Hasher: &acc.BcryptHasher{Cost: 4},
		Logger: quietLogger,
	}).EnsureDefaults()
	if _, err := broken.ResetPassword(ctx, user, code, "N3w-Passw0rd"); err == nil {
		t.Fatal("Expected the store failure to surface")
	}
	if _, err := env.Tokens.GetToken(ctx, acc.HashToken(code)); err != nil {
		t.Fatalf("Reset token should be restored after a failed save, got %v", err)
	}

	reloaded, _ := env.Mgr.FindByID(ctx, user.ID)
	result, err := env.Mgr.ResetPassword(ctx, reloaded, code, "N3w-Passw0rd")
	if err != nil || !result.Succeeded {
		t.Fatalf("ResetPassword retry = %v, %v", result, err)
	}
}

func TestUpdateSecurityStamp(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", true)

	if err := env.Mgr.UpdateSecurityStamp(ctx, user.ID); err != nil {
		t.Fatalf("UpdateSecurityStamp failed: %v", err)
	}
	reloaded, _ := env.Mgr.FindByID(ctx, user.ID)
	if reloaded.SecurityStamp == "" || reloaded.SecurityStamp == user.SecurityStamp {
		t.Errorf("Expected a new stamp, got %q", reloaded.SecurityStamp)
	}
	if err := env.Mgr.UpdateSecurityStamp(ctx, "missing"); !errors.Is(err, acc.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestResetPassword_WrongPurposeToken(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", true)

	confirm, _ := env.Mgr.GenerateEmailConfirmationToken(ctx, user)
	result, _ := env.Mgr.ResetPassword(ctx, user, confirm, "N3w-Passw0rd")
	if !result.HasCode(acc.ErrCodeInvalidToken) {
		t.Errorf("Confirmation token must not reset passwords, got %v", result)
	}
}

func TestUserManager_ConfirmEmail(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", false)

	token, err := env.Mgr.GenerateEmailConfirmationToken(ctx, user)
	if err != nil {
		t.Fatalf("GenerateEmailConfirmationToken failed: %v", err)
	}
	if result, _ := env.Mgr.ConfirmEmail(ctx, user, token); !result.Succeeded {
		t.Fatalf("ConfirmEmail = %v", result)
	}
	reloaded, _ := env.Mgr.FindByID(ctx, user.ID)
	if !reloaded.EmailConfirmed {
		t.Error("Email should be confirmed")
	}
	if result, _ := env.Mgr.ConfirmEmail(ctx, reloaded, token); !result.HasCode(acc.ErrCodeInvalidToken) {
		t.Errorf("Confirmation token should be single use, got %v", result)
	}
}

func TestLockout(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	env.Mgr.Now = func() time.Time { return now }
	env.Mgr.Lockout = acc.LockoutOptions{MaxFailedAttempts: 3, Duration: 10 * time.Minute}
	user := env.createUser(t, "alice@example.com", true)

	for i := 0; i < 2; i++ {
		env.Mgr.AccessFailed(ctx, user)
	}
	if env.Mgr.IsLockedOut(user) {
		t.Fatal("Should not be locked out before the limit")
	}
	env.Mgr.AccessFailed(ctx, user)
	if !env.Mgr.IsLockedOut(user) {
		t.Fatal("Should be locked out at the limit")
	}

	now = now.Add(11 * time.Minute)
	if env.Mgr.IsLockedOut(user) {
		t.Error("Lockout should expire")
	}

	env.Mgr.AccessFailed(ctx, user)
	env.Mgr.ResetAccessFailedCount(ctx, user)
	reloaded, _ := env.Mgr.FindByID(ctx, user.ID)
	if reloaded.AccessFailedCount != 0 || reloaded.LockoutEnd != nil {
		t.Errorf("Counters should be cleared, got %d / %v", reloaded.AccessFailedCount, reloaded.LockoutEnd)
	}
}
