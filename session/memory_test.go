package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashasviy/peer-transfer-api/models"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	alice := models.CallerIdentity{AccountID: "a1", UserID: "u1"}
	bob := models.CallerIdentity{AccountID: "a2", UserID: "u2"}

	t1, _, err := s.Issue(ctx, alice)
	require.NoError(t, err)
	t2, _, err := s.Issue(ctx, alice)
	require.NoError(t, err)
	t3, _, err := s.Issue(ctx, bob)
	require.NoError(t, err)

	got, err := s.Resolve(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	require.NoError(t, s.Revoke(ctx, t1))
	_, err = s.Resolve(ctx, t1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RevokeAll(ctx, "u1"))
	_, err = s.Resolve(ctx, t2)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = s.Resolve(ctx, t3)
	require.NoError(t, err)
	assert.Equal(t, bob, got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, expiresAt, err := s.Issue(context.Background(), models.CallerIdentity{AccountID: "a", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), expiresAt)

	now = now.Add(time.Minute)
	_, err = s.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrNotFound)
}
