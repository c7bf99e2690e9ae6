package users_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yashasviy/peer-transfer-api/kvstore"
	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/session"
	"github.com/yashasviy/peer-transfer-api/transfer"
	"github.com/yashasviy/peer-transfer-api/users"
)

type fixture struct {
	svc      *users.Service
	store    *kvstore.Store
	sessions *session.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := kvstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sessions := session.NewMemoryStore(0)
	svc := users.NewService(store, sessions,
		users.WithBcryptCost(bcrypt.MinCost),
		users.WithOpeningBalance(func() int64 { return 10000 }))
	return fixture{svc: svc, store: store, sessions: sessions}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Register(ctx, users.RegisterInput{Username: " alice ", Email: "Alice@Example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.NotEmpty(t, p.AccountID)

	acct, err := f.store.Get(ctx, p.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), acct.Balance)
	assert.Equal(t, p.ID, acct.UserID)

	u, err := f.store.FindUser(ctx, "alice", "")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret")))

	_, err = f.svc.Register(ctx, users.RegisterInput{Username: "alice", Email: "other@example.com", Password: "secret"})
	assert.ErrorIs(t, err, users.ErrUserExists)
	_, err = f.svc.Register(ctx, users.RegisterInput{Username: "alice2", Email: "ALICE@example.com", Password: "secret"})
	assert.ErrorIs(t, err, users.ErrUserExists)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   users.RegisterInput
		msg  string
	}{
		{"short username", users.RegisterInput{Username: "al", Email: "al@example.com", Password: "secret"}, "username must be at least 3"},
		{"short password", users.RegisterInput{Username: "alice", Email: "al@example.com", Password: "abcd"}, "password must be at least 5"},
		{"bad email", users.RegisterInput{Username: "alice", Email: "not-an-email", Password: "secret"}, "email must be a valid"},
		{"missing email", users.RegisterInput{Username: "alice", Password: "secret"}, "email is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.in)
			require.ErrorIs(t, err, users.ErrInvalidInput)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestRandomOpeningBalance(t *testing.T) {
	pick := users.RandomOpeningBalance(500)
	for i := 0; i < 100; i++ {
		b := pick()
		assert.GreaterOrEqual(t, b, users.MinOpeningBalance)
		assert.Less(t, b, users.MinOpeningBalance+500)
	}
	assert.Equal(t, users.MinOpeningBalance, users.RandomOpeningBalance(0)())
}

func TestLoginAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Register(ctx, users.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)

	byName, err := f.svc.Login(ctx, users.LoginInput{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, p, byName.Profile)
	assert.Equal(t, p.AccountID, byName.AccountID)
	assert.Equal(t, int64(10000), byName.Balance)
	assert.Len(t, byName.Token, 128)

	caller, err := f.sessions.Resolve(ctx, byName.Token)
	require.NoError(t, err)
	assert.Equal(t, models.CallerIdentity{AccountID: p.AccountID, UserID: p.ID}, caller)

	byEmail, err := f.svc.Login(ctx, users.LoginInput{Email: "ALICE@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.NotEqual(t, byName.Token, byEmail.Token)

	require.NoError(t, f.svc.Logout(ctx, byName.Token))
	_, err = f.sessions.Resolve(ctx, byName.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = f.sessions.Resolve(ctx, byEmail.Token)
	assert.NoError(t, err)
}

func TestLoginRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, users.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, users.LoginInput{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, users.LoginInput{Username: "nobody", Password: "secret"})
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, users.LoginInput{Password: "secret"})
	assert.ErrorIs(t, err, users.ErrInvalidInput)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Register(ctx, users.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, users.LoginInput{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	caller := models.CallerIdentity{AccountID: p.AccountID, UserID: p.ID}
	require.NoError(t, f.svc.Delete(ctx, caller))

	_, err = f.store.Get(ctx, p.AccountID)
	assert.ErrorIs(t, err, transfer.ErrAccountNotFound)
	_, err = f.sessions.Resolve(ctx, login.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, caller), users.ErrUserNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, models.CallerIdentity{}), transfer.ErrUnauthenticated)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"alice", "albert", "bob"} {
		_, err := f.svc.Register(ctx, users.RegisterInput{Username: name, Email: name + "@example.com", Password: "secret"})
		require.NoError(t, err)
	}

	all, err := f.svc.Search(ctx, users.SearchAll)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	al, err := f.svc.Search(ctx, "^AL")
	require.NoError(t, err)
	require.Len(t, al, 2)
	assert.Equal(t, "albert", al[0].Username)

	_, err = f.svc.Search(ctx, "zed")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
	_, err = f.svc.Search(ctx, "[")
	assert.ErrorIs(t, err, users.ErrInvalidFilter)
	_, err = f.svc.Search(ctx, "")
	assert.ErrorIs(t, err, users.ErrInvalidInput)
}
