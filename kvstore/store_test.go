package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/transfer"
	"github.com/yashasviy/peer-transfer-api/users"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed registers a user named name with an account holding balance cents and
// returns the account id.
func seed(t *testing.T, s *Store, name string, balance int64) string {
	t.Helper()
	u := models.User{ID: "u-" + name, Username: name, Email: name + "@example.com", PasswordHash: "x", CreatedAt: time.Now()}
	a := models.Account{ID: "a-" + name, UserID: u.ID, Balance: balance}
	require.NoError(t, s.CreateUser(context.Background(), u, a))
	return a.ID
}

func balanceOf(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	a, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func TestApplyAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := seed(t, s, "alice", 10000)
	bob := seed(t, s, "bob", 500)

	remaining, err := s.ApplyAtomic(ctx, alice, bob, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), remaining)
	assert.Equal(t, int64(7000), balanceOf(t, s, alice))
	assert.Equal(t, int64(3500), balanceOf(t, s, bob))
}

func TestApplyAtomicRejectsWithoutWriting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := seed(t, s, "alice", 2000)
	bob := seed(t, s, "bob", 0)

	tests := []struct {
		name      string
		from, to  string
		amount    int64
		wantError error
	}{
		{"insufficient funds", alice, bob, 5000, transfer.ErrInsufficientFunds},
		{"unknown sender", "a-nobody", bob, 100, transfer.ErrSenderAccountNotFound},
		{"unknown recipient", alice, "a-nobody", 100, transfer.ErrRecipientAccountNotFound},
		{"self transfer", alice, alice, 100, transfer.ErrSelfTransfer},
		{"zero amount", alice, bob, 0, transfer.ErrInvalidAmount},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ApplyAtomic(ctx, tc.from, tc.to, tc.amount)
			assert.ErrorIs(t, err, tc.wantError)
			assert.Equal(t, int64(2000), balanceOf(t, s, alice))
			assert.Equal(t, int64(0), balanceOf(t, s, bob))
		})
	}
}

func TestApplyAtomicCancelledContext(t *testing.T) {
	s := openTestStore(t)
	alice := seed(t, s, "alice", 2000)
	bob := seed(t, s, "bob", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ApplyAtomic(ctx, alice, bob, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(2000), balanceOf(t, s, alice))
}

func TestConcurrentCrossingTransfersConserveTotal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "a", 1000)
	b := seed(t, s, "b", 1000)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.ApplyAtomic(ctx, a, b, 1)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.ApplyAtomic(ctx, b, a, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), balanceOf(t, s, a))
	assert.Equal(t, int64(1000), balanceOf(t, s, b))
	assert.Zero(t, s.locks.size(), "lock table should be empty when idle")
}

func TestReadersNeverSeeHalfATransfer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "a", 1000)
	b := seed(t, s, "b", 1000)

	stop := make(chan struct{})
	readerDone := make(chan int)
	go func() {
		samples := 0
		defer func() { readerDone <- samples }()
		for {
			select {
			case <-stop:
				return
			default:
			}
			err := s.db.View(func(txn *badger.Txn) error {
				from, err := getAccount(txn, a)
				if err != nil {
					return err
				}
				to, err := getAccount(txn, b)
				if err != nil {
					return err
				}
				assert.Equal(t, int64(2000), from.Balance+to.Balance, "sample %d", samples)
				return nil
			})
			assert.NoError(t, err)
			samples++
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func(amount int64) {
			defer wg.Done()
			s.ApplyAtomic(ctx, a, b, amount)
		}(int64(i%7 + 1))
		go func(amount int64) {
			defer wg.Done()
			s.ApplyAtomic(ctx, b, a, amount)
		}(int64(i%5 + 1))
	}
	wg.Wait()
	close(stop)

	assert.Positive(t, <-readerDone)
	assert.Equal(t, int64(2000), balanceOf(t, s, a)+balanceOf(t, s, b))
}

func TestApplyAtomicGivesUpWaitingForLock(t *testing.T) {
	s := openTestStore(t)
	alice := seed(t, s, "alice", 2000)
	bob := seed(t, s, "bob", 0)

	unlock, err := s.locks.lock(context.Background(), accountPrefix+bob)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.ApplyAtomic(ctx, alice, bob, 100)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(2000), balanceOf(t, s, alice))
	assert.Equal(t, 1, s.locks.size(), "only the test's own lock remains")
}

func TestDeleteUserHoldsNameLocks(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, "alice", 0)

	unlock, err := s.locks.lock(context.Background(), usernamePrefix+"alice")
	require.NoError(t, err)

	deleted := make(chan error, 1)
	go func() { deleted <- s.DeleteUser(context.Background(), "u-alice") }()

	select {
	case err := <-deleted:
		t.Fatalf("DeleteUser finished while the username was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	require.NoError(t, <-deleted)
}

func TestConflictErr(t *testing.T) {
	assert.ErrorIs(t, conflictErr(badger.ErrConflict), transfer.ErrConflict)
	assert.NotErrorIs(t, conflictErr(badger.ErrConflict), users.ErrUserExists)
	assert.ErrorIs(t, conflictErr(users.ErrUserExists), users.ErrUserExists)
	assert.NoError(t, conflictErr(nil))
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seed(t, s, "alice", 0)

	dupName := models.User{ID: "u2", Username: "alice", Email: "other@example.com"}
	err := s.CreateUser(ctx, dupName, models.Account{ID: "a2", UserID: "u2"})
	assert.ErrorIs(t, err, users.ErrUserExists)

	dupEmail := models.User{ID: "u3", Username: "carol", Email: "alice@example.com"}
	err = s.CreateUser(ctx, dupEmail, models.Account{ID: "a3", UserID: "u3"})
	assert.ErrorIs(t, err, users.ErrUserExists)

	_, err = s.Get(ctx, "a2")
	assert.ErrorIs(t, err, transfer.ErrAccountNotFound)
}

func TestFindUserAndAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seed(t, s, "alice", 4200)

	byName, err := s.FindUser(ctx, "alice", "")
	require.NoError(t, err)
	byEmail, err := s.FindUser(ctx, "", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, byName, byEmail)

	a, err := s.AccountByUser(ctx, byName.ID)
	require.NoError(t, err)
	assert.Equal(t, acct, a.ID)
	assert.Equal(t, int64(4200), a.Balance)

	_, err = s.FindUser(ctx, "", "")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
	_, err = s.AccountByUser(ctx, "missing")
	assert.ErrorIs(t, err, transfer.ErrAccountNotFound)
}

func TestSearchProfiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob"} {
		seed(t, s, name, 100)
	}

	all, err := s.SearchProfiles(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Username)
	assert.Equal(t, "a-alice", all[0].AccountID)

	some, err := s.SearchProfiles(ctx, "^(AL|b)")
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, []string{"alice", "bob"}, []string{some[0].Username, some[1].Username})

	_, err = s.SearchProfiles(ctx, "(")
	assert.ErrorIs(t, err, users.ErrInvalidFilter)
}

func TestDeleteUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seed(t, s, "alice", 100)

	require.NoError(t, s.DeleteUser(ctx, "u-alice"))

	_, err := s.Get(ctx, acct)
	assert.ErrorIs(t, err, transfer.ErrAccountNotFound)
	_, err = s.FindUser(ctx, "alice", "")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, "u-alice"), users.ErrUserNotFound)

	// the username is free again
	seed(t, s, "alice", 0)
}

func TestLockTableHonoursContext(t *testing.T) {
	lt := newLockTable()
	unlock, err := lt.lock(context.Background(), "y")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lt.lock(ctx, "x", "y")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, lt.size(), "x must be released again")

	unlock()
	assert.Zero(t, lt.size())

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = lt.lock(cancelled, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, lt.size())
}

func TestLockTableOrdersKeys(t *testing.T) {
	lt := newLockTable()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := lt.lock(context.Background(), "x", "y")
			if assert.NoError(t, err) {
				unlock()
			}
		}()
		go func() {
			defer wg.Done()
			unlock, err := lt.lock(context.Background(), "y", "x", "y")
			if assert.NoError(t, err) {
				unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deadlock: %d keys still held", lt.size())
	}
	assert.Zero(t, lt.size())
}
