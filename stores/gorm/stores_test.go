//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	acc "github.com/panyam/accounts"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "accounts.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows one writer; a single connection serializes transactions
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func newUser(email string) *acc.User {
	now := time.Now()
	return &acc.User{
		ID:              email + "-id",
		Email:           email,
		UserName:        email,
		NormalizedEmail: acc.NormalizeEmail(email),
		SecurityStamp:   "stamp",
		Roles:           []string{string(acc.RoleUser)},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func newToken(t *testing.T, userID string, tokenType acc.TokenType, expiry time.Duration) *acc.AuthToken {
	t.Helper()
	token, err := acc.NewAuthToken(userID, userID+"@example.com", tokenType, expiry)
	require.NoError(t, err)
	return token
}

func TestUserStoreCreateAndGet(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	user := newUser("alice@example.com")
	require.NoError(t, store.CreateUser(ctx, user))

	got, err := store.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, []string{string(acc.RoleUser)}, got.Roles)

	got, err = store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	_, err = store.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, acc.ErrUserNotFound)
	_, err = store.GetUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, acc.ErrUserNotFound)
}

func TestUserStoreDuplicateEmail(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, newUser("alice@example.com")))

	dup := newUser("alice@example.com")
	dup.ID = "other-id"
	assert.ErrorIs(t, store.CreateUser(ctx, dup), acc.ErrDuplicateUser)
}

func TestUserStoreSave(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	user := newUser("alice@example.com")
	require.NoError(t, store.CreateUser(ctx, user))

	user.EmailConfirmed = true
	user.SecurityStamp = "rotated"
	user.AccessFailedCount = 0
	require.NoError(t, store.SaveUser(ctx, user))

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailConfirmed)
	assert.Equal(t, "rotated", got.SecurityStamp)

	assert.ErrorIs(t, store.SaveUser(ctx, newUser("ghost@example.com")), acc.ErrUserNotFound)
}

func TestTokenStoreConsumeIsSingleUse(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()

	token := newToken(t, "u1", acc.TokenTypePasswordReset, time.Hour)
	require.NoError(t, store.SaveToken(ctx, token))

	got, err := store.GetToken(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	got, err = store.ConsumeToken(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, acc.TokenTypePasswordReset, got.Type)

	_, err = store.ConsumeToken(ctx, token.TokenHash)
	assert.ErrorIs(t, err, acc.ErrTokenNotFound)
	_, err = store.GetToken(ctx, token.TokenHash)
	assert.ErrorIs(t, err, acc.ErrTokenNotFound)
}

func TestTokenStoreConcurrentConsume(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()

	token := newToken(t, "u1", acc.TokenTypePasswordReset, time.Hour)
	require.NoError(t, store.SaveToken(ctx, token))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeToken(ctx, token.TokenHash); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, acc.ErrTokenNotFound)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTokenStoreExpired(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()

	token := newToken(t, "u1", acc.TokenTypePasswordReset, -time.Minute)
	require.NoError(t, store.SaveToken(ctx, token))

	_, err := store.GetToken(ctx, token.TokenHash)
	assert.ErrorIs(t, err, acc.ErrTokenNotFound)
	_, err = store.ConsumeToken(ctx, token.TokenHash)
	assert.ErrorIs(t, err, acc.ErrTokenNotFound)
}

func TestTokenStoreDeleteUserTokens(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()

	reset1 := newToken(t, "u1", acc.TokenTypePasswordReset, time.Hour)
	reset2 := newToken(t, "u1", acc.TokenTypePasswordReset, time.Hour)
	confirm := newToken(t, "u1", acc.TokenTypeEmailConfirmation, time.Hour)
	other := newToken(t, "u2", acc.TokenTypePasswordReset, time.Hour)
	for _, tok := range []*acc.AuthToken{reset1, reset2, confirm, other} {
		require.NoError(t, store.SaveToken(ctx, tok))
	}

	require.NoError(t, store.DeleteUserTokens(ctx, "u1", acc.TokenTypePasswordReset))

	for _, tok := range []*acc.AuthToken{reset1, reset2} {
		_, err := store.GetToken(ctx, tok.TokenHash)
		assert.ErrorIs(t, err, acc.ErrTokenNotFound)
	}
	for _, tok := range []*acc.AuthToken{confirm, other} {
		_, err := store.GetToken(ctx, tok.TokenHash)
		assert.NoError(t, err)
	}
}

func TestTokenStoreCleanupExpiredTokens(t *testing.T) {
	db := newTestDB(t)
	store := NewTokenStore(db)
	ctx := context.Background()

	expired := newToken(t, "u1", acc.TokenTypePasswordReset, -time.Minute)
	live := newToken(t, "u1", acc.TokenTypePasswordReset, time.Hour)
	require.NoError(t, store.SaveToken(ctx, expired))
	require.NoError(t, store.SaveToken(ctx, live))

	var cleaner acc.ExpiredTokenCleaner = store
	require.NoError(t, cleaner.CleanupExpiredTokens(ctx))

	var count int64
	require.NoError(t, db.Model(&AuthTokenModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	_, err := store.GetToken(ctx, live.TokenHash)
	assert.NoError(t, err)
}
