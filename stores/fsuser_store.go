package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	acc "github.com/panyam/accounts"
)

// FSUserStore stores users as JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/
//	│   └── {user_id}.json      # the full user record
//	└── emails/
//	    └── {sha256(email)}.json # {"user_id": "..."}, the uniqueness index
//
// The email index entry is created with O_EXCL so two concurrent registrations
// for the same address cannot both succeed.
type FSUserStore struct {
	StoragePath string

	mu sync.Mutex
}

type fsEmailIndex struct {
	UserID string `json:"user_id"`
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

// validID rejects ids that could escape the users directory
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

func (s *FSUserStore) getUserPath(userId string) string {
	return filepath.Join(s.StoragePath, "users", userId+".json")
}

func (s *FSUserStore) getEmailPath(normalizedEmail string) string {
	sum := sha256.Sum256([]byte(normalizedEmail))
	return filepath.Join(s.StoragePath, "emails", hex.EncodeToString(sum[:])+".json")
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *acc.User) error {
	if !validID(user.ID) || user.NormalizedEmail == "" {
		return fmt.Errorf("valid user id and normalized email are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	emailPath := s.getEmailPath(user.NormalizedEmail)
	if err := os.MkdirAll(filepath.Dir(emailPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(emailPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return acc.ErrDuplicateUser
		}
		return err
	}
	data, _ := json.Marshal(fsEmailIndex{UserID: user.ID})
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(emailPath)
		return fmt.Errorf("failed to write email index: %w", errors.Join(werr, cerr))
	}

	if err := s.writeUser(user); err != nil {
		os.Remove(emailPath)
		return err
	}
	return nil
}

func (s *FSUserStore) GetUserByID(ctx context.Context, userId string) (*acc.User, error) {
	if !validID(userId) {
		return nil, acc.ErrUserNotFound
	}
	data, err := os.ReadFile(s.getUserPath(userId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, acc.ErrUserNotFound
		}
		return nil, err
	}

	var user acc.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *FSUserStore) GetUserByEmail(ctx context.Context, normalizedEmail string) (*acc.User, error) {
	data, err := os.ReadFile(s.getEmailPath(normalizedEmail))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, acc.ErrUserNotFound
		}
		return nil, err
	}
	var index fsEmailIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, index.UserID)
}

func (s *FSUserStore) SaveUser(ctx context.Context, user *acc.User) error {
	if !validID(user.ID) {
		return acc.ErrUserNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.getUserPath(user.ID)); err != nil {
		if os.IsNotExist(err) {
			return acc.ErrUserNotFound
		}
		return err
	}
	return s.writeUser(user)
}

func (s *FSUserStore) writeUser(user *acc.User) error {
	path := s.getUserPath(user.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}

	return writeAtomicFile(path, data)
}
