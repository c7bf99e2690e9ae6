// Package session keeps bearer tokens in Redis. Expiry is delegated to key
// TTLs, so an expired token simply stops resolving.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/telemetry"
)

const (
	// DefaultTTL is how long a token stays valid after login.
	DefaultTTL = 24 * time.Hour

	// KeyPrefix namespaces token records.
	KeyPrefix = "session:"

	// UserSessionsPrefix namespaces the set of live tokens per user.
	UserSessionsPrefix = "user_sessions:"

	tokenBytes = 64
)

// ErrNotFound is returned for unknown, revoked or expired tokens.
var ErrNotFound = errors.New("session not found or expired")

type record struct {
	AccountID string    `json:"account_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisStore issues, resolves and revokes session tokens.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Issue creates a random token bound to caller.
func (s *RedisStore) Issue(ctx context.Context, caller models.CallerIdentity) (string, time.Time, error) {
	token, err := newToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().Add(s.ttl)
	data, err := json.Marshal(record{AccountID: caller.AccountID, UserID: caller.UserID, ExpiresAt: expiresAt})
	if err != nil {
		return "", time.Time{}, err
	}

	userKey := UserSessionsPrefix + caller.UserID
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, KeyPrefix+token, data, s.ttl)
		pipe.SAdd(ctx, userKey, token)
		pipe.Expire(ctx, userKey, s.ttl)
		return nil
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store session: %w", err)
	}
	telemetry.SessionsIssued.Inc()
	return token, expiresAt, nil
}

// Resolve returns the identity bound to token.
func (s *RedisStore) Resolve(ctx context.Context, token string) (models.CallerIdentity, error) {
	rec, err := s.load(ctx, token)
	if err != nil {
		return models.CallerIdentity{}, err
	}
	return models.CallerIdentity{AccountID: rec.AccountID, UserID: rec.UserID}, nil
}

// Revoke deletes token. Revoking an unknown token is ErrNotFound.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	rec, err := s.load(ctx, token)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyPrefix+token)
		pipe.SRem(ctx, UserSessionsPrefix+rec.UserID, token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAll deletes every token of userID.
func (s *RedisStore) RevokeAll(ctx context.Context, userID string) error {
	userKey := UserSessionsPrefix + userID
	tokens, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, KeyPrefix+t)
	}
	keys = append(keys, userKey)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, token string) (record, error) {
	var rec record
	if token == "" {
		return rec, ErrNotFound
	}
	data, err := s.rdb.Get(ctx, KeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
