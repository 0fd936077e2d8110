package accounts

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenType represents different types of auth tokens
type TokenType string

const (
	TokenTypeEmailConfirmation TokenType = "email_confirmation"
	TokenTypePasswordReset     TokenType = "password_reset"
)

// Default token expiry durations
const (
	TokenExpiryEmailConfirmation = 24 * time.Hour
	TokenExpiryPasswordReset     = 1 * time.Hour
)

// AuthToken represents a confirmation or reset token.
// Token holds the plaintext only on the value returned by NewAuthToken; stores persist TokenHash.
type AuthToken struct {
	Token     string    `json:"-"`
	TokenHash string    `json:"token_hash"`
	Type      TokenType `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 digest under which a token is stored
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// NewAuthToken creates a token bound to a user and purpose
func NewAuthToken(userID, email string, tokenType TokenType, expiry time.Duration) (*AuthToken, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &AuthToken{
		Token:     token,
		TokenHash: HashToken(token),
		Type:      tokenType,
		UserID:    userID,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
	}, nil
}

// IsExpired checks if a token has expired
func (t *AuthToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsValid checks if a token is valid for the given purpose and user
func (t *AuthToken) IsValid(expectedType TokenType, userID string) bool {
	return t.Type == expectedType && t.UserID == userID && !t.IsExpired()
}
