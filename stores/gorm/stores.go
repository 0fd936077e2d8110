//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	acc "github.com/panyam/accounts"
)

// OpenPostgres opens a Postgres database with driver errors translated, so unique
// violations surface as gorm.ErrDuplicatedKey.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
}

// AutoMigrate runs database migrations for all account tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&AuthTokenModel{},
	)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements acc.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, user *acc.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("normalized_email = ?", user.NormalizedEmail).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return acc.ErrDuplicateUser
		}
		err := tx.Create(UserToModel(user)).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return acc.ErrDuplicateUser
		}
		return err
	})
}

func (s *UserStore) GetUserByID(ctx context.Context, userId string) (*acc.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, acc.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, normalizedEmail string) (*acc.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "normalized_email = ?", normalizedEmail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, acc.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *acc.User) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", user.ID).
		Select("*").Omit("id", "created_at").Updates(UserToModel(user))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return acc.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// TokenStore
// =============================================================================

// TokenStore implements acc.TokenStore using GORM
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) SaveToken(ctx context.Context, token *acc.AuthToken) error {
	return s.db.WithContext(ctx).Create(AuthTokenToModel(token)).Error
}

func (s *TokenStore) GetToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	var model AuthTokenModel
	if err := s.db.WithContext(ctx).First(&model, "token_hash = ?", tokenHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, acc.ErrTokenNotFound
		}
		return nil, err
	}

	authToken := model.ToAuthToken()
	if authToken.IsExpired() {
		_ = s.DeleteToken(ctx, tokenHash)
		return nil, acc.ErrTokenNotFound
	}
	return authToken, nil
}

// ConsumeToken reads and deletes the token in one transaction.  Only the caller
// whose DELETE affects the row gets the token back.
func (s *TokenStore) ConsumeToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	var out *acc.AuthToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AuthTokenModel
		if err := tx.First(&model, "token_hash = ?", tokenHash).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return acc.ErrTokenNotFound
			}
			return err
		}
		result := tx.Where("token_hash = ?", tokenHash).Delete(&AuthTokenModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return acc.ErrTokenNotFound
		}
		out = model.ToAuthToken()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.IsExpired() {
		return nil, acc.ErrTokenNotFound
	}
	return out, nil
}

func (s *TokenStore) DeleteToken(ctx context.Context, tokenHash string) error {
	return s.db.WithContext(ctx).Delete(&AuthTokenModel{}, "token_hash = ?", tokenHash).Error
}

func (s *TokenStore) DeleteUserTokens(ctx context.Context, userID string, tokenType acc.TokenType) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, tokenType).
		Delete(&AuthTokenModel{}).Error
}

// CleanupExpiredTokens removes all expired tokens
func (s *TokenStore) CleanupExpiredTokens(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&AuthTokenModel{}).Error
}
