//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	acc "github.com/panyam/accounts"
)

// StringSlice is a helper type for storing string slices in GORM
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// UserModel is the GORM model for users
type UserModel struct {
	ID                string      `gorm:"primaryKey;size:64"`
	UserName          string      `gorm:"size:255"`
	Email             string      `gorm:"size:255"`
	NormalizedEmail   string      `gorm:"size:255;uniqueIndex"`
	FirstName         string      `gorm:"size:255"`
	LastName          string      `gorm:"size:255"`
	EmailConfirmed    bool        `gorm:"default:false"`
	PasswordHash      string      `gorm:"size:255"`
	SecurityStamp     string      `gorm:"size:64"`
	Roles             StringSlice `gorm:"type:jsonb"`
	AccessFailedCount int         `gorm:"default:0"`
	LockoutEnd        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *acc.User {
	return &acc.User{
		ID:                m.ID,
		UserName:          m.UserName,
		Email:             m.Email,
		NormalizedEmail:   m.NormalizedEmail,
		FirstName:         m.FirstName,
		LastName:          m.LastName,
		EmailConfirmed:    m.EmailConfirmed,
		PasswordHash:      m.PasswordHash,
		SecurityStamp:     m.SecurityStamp,
		Roles:             []string(m.Roles),
		AccessFailedCount: m.AccessFailedCount,
		LockoutEnd:        m.LockoutEnd,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func UserToModel(u *acc.User) *UserModel {
	return &UserModel{
		ID:                u.ID,
		UserName:          u.UserName,
		Email:             u.Email,
		NormalizedEmail:   u.NormalizedEmail,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		EmailConfirmed:    u.EmailConfirmed,
		PasswordHash:      u.PasswordHash,
		SecurityStamp:     u.SecurityStamp,
		Roles:             StringSlice(u.Roles),
		AccessFailedCount: u.AccessFailedCount,
		LockoutEnd:        u.LockoutEnd,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

// AuthTokenModel is the GORM model for confirmation/reset tokens
type AuthTokenModel struct {
	TokenHash string        `gorm:"primaryKey;size:64"`
	Type      acc.TokenType `gorm:"size:32;index"`
	UserID    string        `gorm:"size:64;index"`
	Email     string        `gorm:"size:255"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (AuthTokenModel) TableName() string {
	return "auth_tokens"
}

func (m *AuthTokenModel) ToAuthToken() *acc.AuthToken {
	return &acc.AuthToken{
		TokenHash: m.TokenHash,
		Type:      m.Type,
		UserID:    m.UserID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func AuthTokenToModel(t *acc.AuthToken) *AuthTokenModel {
	return &AuthTokenModel{
		TokenHash: t.TokenHash,
		Type:      t.Type,
		UserID:    t.UserID,
		Email:     t.Email,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}
