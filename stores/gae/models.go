//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	acc "github.com/panyam/accounts"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	UserName          string         `datastore:"user_name"`
	Email             string         `datastore:"email"`
	NormalizedEmail   string         `datastore:"normalized_email"`
	FirstName         string         `datastore:"first_name,noindex"`
	LastName          string         `datastore:"last_name,noindex"`
	EmailConfirmed    bool           `datastore:"email_confirmed"`
	PasswordHash      string         `datastore:"password_hash,noindex"`
	SecurityStamp     string         `datastore:"security_stamp,noindex"`
	Roles             []string       `datastore:"roles"`
	AccessFailedCount int            `datastore:"access_failed_count,noindex"`
	LockoutEnd        time.Time      `datastore:"lockout_end,noindex"`
	CreatedAt         time.Time      `datastore:"created_at"`
	UpdatedAt         time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *acc.User {
	u := &acc.User{
		ID:                e.Key.Name,
		UserName:          e.UserName,
		Email:             e.Email,
		NormalizedEmail:   e.NormalizedEmail,
		FirstName:         e.FirstName,
		LastName:          e.LastName,
		EmailConfirmed:    e.EmailConfirmed,
		PasswordHash:      e.PasswordHash,
		SecurityStamp:     e.SecurityStamp,
		Roles:             e.Roles,
		AccessFailedCount: e.AccessFailedCount,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if !e.LockoutEnd.IsZero() {
		t := e.LockoutEnd
		u.LockoutEnd = &t
	}
	return u
}

func UserToEntity(u *acc.User, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:               key,
		UserName:          u.UserName,
		Email:             u.Email,
		NormalizedEmail:   u.NormalizedEmail,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		EmailConfirmed:    u.EmailConfirmed,
		PasswordHash:      u.PasswordHash,
		SecurityStamp:     u.SecurityStamp,
		Roles:             u.Roles,
		AccessFailedCount: u.AccessFailedCount,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
	if u.LockoutEnd != nil {
		e.LockoutEnd = *u.LockoutEnd
	}
	return e
}

// UserEmailEntity maps a normalized email to its user.
// Key format: normalized email
type UserEmailEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	UserID string         `datastore:"user_id"`
}

// AuthTokenEntity is the Datastore entity for confirmation/reset tokens.
// Key format: token digest
type AuthTokenEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Type      acc.TokenType  `datastore:"type"`
	UserID    string         `datastore:"user_id"`
	Email     string         `datastore:"email,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}

func (e *AuthTokenEntity) ToAuthToken() *acc.AuthToken {
	return &acc.AuthToken{
		TokenHash: e.Key.Name,
		Type:      e.Type,
		UserID:    e.UserID,
		Email:     e.Email,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func AuthTokenToEntity(t *acc.AuthToken, key *datastore.Key) *AuthTokenEntity {
	return &AuthTokenEntity{
		Key:       key,
		Type:      t.Type,
		UserID:    t.UserID,
		Email:     t.Email,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}
