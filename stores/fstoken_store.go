package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	acc "github.com/panyam/accounts"
)

// FSTokenStore stores confirmation and reset tokens as JSON files named by the
// token digest.  Consuming a token renames its file to a unique claim name first,
// so when callers race only one rename succeeds.
type FSTokenStore struct {
	StoragePath string
}

func NewFSTokenStore(storagePath string) *FSTokenStore {
	return &FSTokenStore{StoragePath: storagePath}
}

func (s *FSTokenStore) tokensDir() string {
	return filepath.Join(s.StoragePath, "tokens")
}

func (s *FSTokenStore) getTokenPath(tokenHash string) string {
	return filepath.Join(s.tokensDir(), tokenHash+".json")
}

func (s *FSTokenStore) SaveToken(ctx context.Context, token *acc.AuthToken) error {
	if !validHash(token.TokenHash) {
		return fmt.Errorf("invalid token hash")
	}
	path := s.getTokenPath(token.TokenHash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func readToken(path string) (*acc.AuthToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, acc.ErrTokenNotFound
		}
		return nil, err
	}

	var authToken acc.AuthToken
	if err := json.Unmarshal(data, &authToken); err != nil {
		return nil, err
	}
	return &authToken, nil
}

func validHash(tokenHash string) bool {
	return tokenHash != "" && !strings.ContainsAny(tokenHash, `/\.`)
}

func (s *FSTokenStore) GetToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	if !validHash(tokenHash) {
		return nil, acc.ErrTokenNotFound
	}
	authToken, err := readToken(s.getTokenPath(tokenHash))
	if err != nil {
		return nil, err
	}

	if authToken.IsExpired() {
		// Auto-delete expired token
		_ = s.DeleteToken(ctx, tokenHash)
		return nil, acc.ErrTokenNotFound
	}
	return authToken, nil
}

func (s *FSTokenStore) ConsumeToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	if !validHash(tokenHash) {
		return nil, acc.ErrTokenNotFound
	}
	suffix, err := acc.GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	claimPath := filepath.Join(s.tokensDir(), tokenHash+".claimed-"+suffix[:16])
	if err := os.Rename(s.getTokenPath(tokenHash), claimPath); err != nil {
		if os.IsNotExist(err) {
			return nil, acc.ErrTokenNotFound
		}
		return nil, err
	}
	defer os.Remove(claimPath)

	authToken, err := readToken(claimPath)
	if err != nil {
		return nil, err
	}
	if authToken.IsExpired() {
		return nil, acc.ErrTokenNotFound
	}
	return authToken, nil
}

func (s *FSTokenStore) DeleteToken(ctx context.Context, tokenHash string) error {
	if !validHash(tokenHash) {
		return nil
	}
	err := os.Remove(s.getTokenPath(tokenHash))
	if os.IsNotExist(err) {
		return nil // Already deleted
	}
	return err
}

func (s *FSTokenStore) DeleteUserTokens(ctx context.Context, userID string, tokenType acc.TokenType) error {
	entries, err := os.ReadDir(s.tokensDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.tokensDir(), entry.Name())
		authToken, err := readToken(path)
		if err != nil {
			continue
		}

		if authToken.UserID == userID && authToken.Type == tokenType {
			_ = os.Remove(path)
		}
	}
	return nil
}

// CleanupExpiredTokens removes every expired token file
func (s *FSTokenStore) CleanupExpiredTokens(ctx context.Context) error {
	entries, err := os.ReadDir(s.tokensDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.tokensDir(), entry.Name())
		authToken, err := readToken(path)
		if err != nil {
			continue
		}
		if authToken.IsExpired() {
			_ = os.Remove(path)
		}
	}
	return nil
}
