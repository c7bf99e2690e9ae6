package session

import (
	"context"
	"sync"
	"time"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/telemetry"
)

// MemoryStore keeps sessions in process memory. It serves single-node runs
// without Redis and tests; sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]record
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, sessions: make(map[string]record)}
}

func (s *MemoryStore) Issue(_ context.Context, caller models.CallerIdentity) (string, time.Time, error) {
	token, err := newToken()
	if err != nil {
		return "", time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt := s.now().Add(s.ttl)
	s.sessions[token] = record{AccountID: caller.AccountID, UserID: caller.UserID, ExpiresAt: expiresAt}
	telemetry.SessionsIssued.Inc()
	return token, expiresAt, nil
}

func (s *MemoryStore) Resolve(_ context.Context, token string) (models.CallerIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[token]
	if !ok {
		return models.CallerIdentity{}, ErrNotFound
	}
	if !s.now().Before(rec.ExpiresAt) {
		delete(s.sessions, token)
		return models.CallerIdentity{}, ErrNotFound
	}
	return models.CallerIdentity{AccountID: rec.AccountID, UserID: rec.UserID}, nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, token)
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, rec := range s.sessions {
		if rec.UserID == userID {
			delete(s.sessions, token)
		}
	}
	return nil
}
