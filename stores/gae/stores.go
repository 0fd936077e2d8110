//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	acc "github.com/panyam/accounts"
)

// Kind constants for Datastore entities
const (
	KindUser      = "User"
	KindUserEmail = "UserEmail"
	KindAuthToken = "AuthToken"
)

func namespacedKey(namespace, kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = namespace
	return key
}

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements acc.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{
		client:    client,
		namespace: namespace,
	}
}

// CreateUser writes the email index entity and the user in one transaction,
// failing with ErrDuplicateUser if the index entity already exists.
func (s *UserStore) CreateUser(ctx context.Context, user *acc.User) error {
	userKey := namespacedKey(s.namespace, KindUser, user.ID)
	emailKey := namespacedKey(s.namespace, KindUserEmail, user.NormalizedEmail)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEmailEntity
		err := tx.Get(emailKey, &existing)
		if err == nil {
			return acc.ErrDuplicateUser
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if _, err := tx.Put(emailKey, &UserEmailEntity{Key: emailKey, UserID: user.ID}); err != nil {
			return err
		}
		_, err = tx.Put(userKey, UserToEntity(user, userKey))
		return err
	})
	return err
}

func (s *UserStore) GetUserByID(ctx context.Context, userId string) (*acc.User, error) {
	key := namespacedKey(s.namespace, KindUser, userId)
	var entity UserEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, acc.ErrUserNotFound
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, normalizedEmail string) (*acc.User, error) {
	key := namespacedKey(s.namespace, KindUserEmail, normalizedEmail)
	var index UserEmailEntity
	if err := s.client.Get(ctx, key, &index); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, acc.ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUserByID(ctx, index.UserID)
}

func (s *UserStore) SaveUser(ctx context.Context, user *acc.User) error {
	key := namespacedKey(s.namespace, KindUser, user.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return acc.ErrUserNotFound
			}
			return err
		}
		_, err := tx.Put(key, UserToEntity(user, key))
		return err
	})
	return err
}

// ============================================================================
// TokenStore
// ============================================================================

// TokenStore implements acc.TokenStore using Google Cloud Datastore
type TokenStore struct {
	client    *datastore.Client
	namespace string
}

// NewTokenStore creates a new Datastore-backed TokenStore
func NewTokenStore(client *datastore.Client, namespace string) *TokenStore {
	return &TokenStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *TokenStore) SaveToken(ctx context.Context, token *acc.AuthToken) error {
	key := namespacedKey(s.namespace, KindAuthToken, token.TokenHash)
	_, err := s.client.Put(ctx, key, AuthTokenToEntity(token, key))
	return err
}

func (s *TokenStore) GetToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	key := namespacedKey(s.namespace, KindAuthToken, tokenHash)
	var entity AuthTokenEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, acc.ErrTokenNotFound
		}
		return nil, err
	}

	authToken := entity.ToAuthToken()
	if authToken.IsExpired() {
		_ = s.DeleteToken(ctx, tokenHash)
		return nil, acc.ErrTokenNotFound
	}
	return authToken, nil
}

// ConsumeToken gets and deletes the token in a transaction.  Datastore aborts
// all but one of any concurrent transactions touching the same key.
func (s *TokenStore) ConsumeToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	key := namespacedKey(s.namespace, KindAuthToken, tokenHash)
	var entity AuthTokenEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return acc.ErrTokenNotFound
			}
			return err
		}
		return tx.Delete(key)
	}, datastore.MaxAttempts(1))
	if errors.Is(err, datastore.ErrConcurrentTransaction) {
		return nil, acc.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	authToken := entity.ToAuthToken()
	if authToken.IsExpired() {
		return nil, acc.ErrTokenNotFound
	}
	return authToken, nil
}

func (s *TokenStore) DeleteToken(ctx context.Context, tokenHash string) error {
	key := namespacedKey(s.namespace, KindAuthToken, tokenHash)
	return s.client.Delete(ctx, key)
}

func (s *TokenStore) DeleteUserTokens(ctx context.Context, userID string, tokenType acc.TokenType) error {
	query := datastore.NewQuery(KindAuthToken).
		FilterField("user_id", "=", userID).
		FilterField("type", "=", string(tokenType)).
		KeysOnly()
	return s.deleteMatching(ctx, query)
}

// CleanupExpiredTokens removes all expired tokens
func (s *TokenStore) CleanupExpiredTokens(ctx context.Context) error {
	query := datastore.NewQuery(KindAuthToken).
		FilterField("expires_at", "<", time.Now()).
		KeysOnly()
	return s.deleteMatching(ctx, query)
}

func (s *TokenStore) deleteMatching(ctx context.Context, query *datastore.Query) error {
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var keys []*datastore.Key
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}
