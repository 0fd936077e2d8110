package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	acc "github.com/panyam/accounts"
)

// ErrRedisUnavailable wraps transport failures
var ErrRedisUnavailable = errors.New("redis unavailable")

// TokenStore implements acc.TokenStore on Redis
type TokenStore struct {
	redis  goredis.UniversalClient
	prefix string

	// Defaults to slog.Default()
	Logger *slog.Logger
}

func NewTokenStore(redisClient goredis.UniversalClient, prefix string) *TokenStore {
	if prefix == "" {
		prefix = "acct"
	}
	return &TokenStore{
		redis:  redisClient,
		prefix: prefix,
		Logger: slog.Default(),
	}
}

func (s *TokenStore) tokenKey(tokenHash string) string {
	return s.prefix + ":tok:" + tokenHash
}

func (s *TokenStore) userKey(userID string, tokenType acc.TokenType) string {
	return s.prefix + ":user:" + userID + ":" + string(tokenType)
}

func (s *TokenStore) SaveToken(ctx context.Context, token *acc.AuthToken) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token already expired")
	}
	encoded, err := json.Marshal(token)
	if err != nil {
		return err
	}

	userKey := s.userKey(token.UserID, token.Type)
	_, err = s.redis.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(token.TokenHash), encoded, ttl)
		pipe.SAdd(ctx, userKey, token.TokenHash)
		// tokens of one type share an expiry, so the newest token outlives the rest
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func decodeToken(data []byte) (*acc.AuthToken, error) {
	var token acc.AuthToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	if token.IsExpired() {
		return nil, acc.ErrTokenNotFound
	}
	return &token, nil
}

func (s *TokenStore) GetToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, acc.ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeToken(data)
}

// ConsumeToken uses GETDEL, so the read and the delete are one atomic command
func (s *TokenStore) ConsumeToken(ctx context.Context, tokenHash string) (*acc.AuthToken, error) {
	data, err := s.redis.GetDel(ctx, s.tokenKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, acc.ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	token, err := decodeToken(data)
	if err != nil {
		return nil, err
	}
	// The token is already claimed; a stale index entry only costs a no-op DEL later
	if err := s.redis.SRem(ctx, s.userKey(token.UserID, token.Type), tokenHash).Err(); err != nil {
		s.Logger.Warn("failed to remove consumed token from user index", "user_id", token.UserID, "error", err)
	}
	return token, nil
}

func (s *TokenStore) DeleteToken(ctx context.Context, tokenHash string) error {
	if _, err := s.ConsumeToken(ctx, tokenHash); err != nil && !errors.Is(err, acc.ErrTokenNotFound) {
		return err
	}
	return nil
}

func (s *TokenStore) DeleteUserTokens(ctx context.Context, userID string, tokenType acc.TokenType) error {
	userKey := s.userKey(userID, tokenType)
	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, h := range hashes {
			pipe.Del(ctx, s.tokenKey(h))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
