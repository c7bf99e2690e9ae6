// Package kvstore keeps users and accounts in an embedded Badger database.
//
// Every mutation runs in a Badger read-write transaction, so it commits as a
// whole or not at all. Transfers additionally hold per-account mutexes taken
// in key order; Badger's own conflict detection still backs them up and is
// reported as transfer.ErrConflict.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/transfer"
	"github.com/yashasviy/peer-transfer-api/users"
)

const (
	accountPrefix     = "account/"
	userPrefix        = "user/"
	userAccountPrefix = "user-account/"
	usernamePrefix    = "username/"
	emailPrefix       = "email/"
)

// Store implements transfer.AccountStore and users.Directory.
type Store struct {
	db    *badger.DB
	locks *lockTable
}

// Open opens the database at path. With inMemory set, path is ignored and
// nothing touches the disk.
func Open(path string, inMemory bool) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, locks: newLockTable()}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the account stored under accountID.
func (s *Store) Get(ctx context.Context, accountID string) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}
	var acct models.Account
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		acct, err = getAccount(txn, accountID)
		return err
	})
	return acct, err
}

// ApplyAtomic debits senderID and credits recipientID in a single Badger
// transaction while holding both account locks.
func (s *Store) ApplyAtomic(ctx context.Context, senderID, recipientID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, transfer.ErrInvalidAmount
	}
	if senderID == recipientID {
		return 0, transfer.ErrSelfTransfer
	}

	unlock, err := s.locks.lock(ctx, accountPrefix+senderID, accountPrefix+recipientID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	// The last lock may have been won in the same instant ctx expired.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var remaining int64
	err = s.db.Update(func(txn *badger.Txn) error {
		from, err := getAccount(txn, senderID)
		if errors.Is(err, transfer.ErrAccountNotFound) {
			return transfer.ErrSenderAccountNotFound
		}
		if err != nil {
			return err
		}
		to, err := getAccount(txn, recipientID)
		if errors.Is(err, transfer.ErrAccountNotFound) {
			return transfer.ErrRecipientAccountNotFound
		}
		if err != nil {
			return err
		}

		if from.Balance < amount {
			return transfer.ErrInsufficientFunds
		}
		if to.Balance > math.MaxInt64-amount {
			return fmt.Errorf("credit overflows recipient balance: %w", transfer.ErrInvalidAmount)
		}

		from.Balance -= amount
		to.Balance += amount
		if err := putJSON(txn, accountPrefix+from.ID, from); err != nil {
			return err
		}
		if err := putJSON(txn, accountPrefix+to.ID, to); err != nil {
			return err
		}
		remaining = from.Balance
		return nil
	})
	if err != nil {
		return 0, conflictErr(err)
	}
	return remaining, nil
}

// CreateUser stores the user, its account and the lookup indexes.
func (s *Store) CreateUser(ctx context.Context, user models.User, account models.Account) error {
	unlock, err := s.locks.lock(ctx, usernamePrefix+user.Username, emailPrefix+user.Email)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{usernamePrefix + user.Username, emailPrefix + user.Email} {
			if _, err := txn.Get([]byte(key)); err == nil {
				return users.ErrUserExists
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := putJSON(txn, userPrefix+user.ID, user); err != nil {
			return err
		}
		if err := putJSON(txn, accountPrefix+account.ID, account); err != nil {
			return err
		}
		for key, val := range map[string]string{
			userAccountPrefix + user.ID:    account.ID,
			usernamePrefix + user.Username: user.ID,
			emailPrefix + user.Email:       user.ID,
		} {
			if err := txn.Set([]byte(key), []byte(val)); err != nil {
				return err
			}
		}
		return nil
	})
	return conflictErr(err)
}

// FindUser looks the user up by username first, then by email.
func (s *Store) FindUser(ctx context.Context, username, email string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range []string{usernamePrefix + username, emailPrefix + email} {
			if strings.HasSuffix(key, "/") {
				continue
			}
			id, err := getString(txn, key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			return getJSON(txn, userPrefix+id, &user)
		}
		return users.ErrUserNotFound
	})
	return user, err
}

// AccountByUser returns the account owned by userID.
func (s *Store) AccountByUser(ctx context.Context, userID string) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}
	var acct models.Account
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, userAccountPrefix+userID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return transfer.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		acct, err = getAccount(txn, id)
		return err
	})
	return acct, err
}

// SearchProfiles scans all users and keeps those whose username or email
// matches filter, ordered by username.
func (s *Store) SearchProfiles(ctx context.Context, filter string) ([]models.UserProfile, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile("(?i)" + filter); err != nil {
			return nil, fmt.Errorf("%w: %v", users.ErrInvalidFilter, err)
		}
	}

	var out []models.UserProfile
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var u models.User
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}
			if re != nil && !re.MatchString(u.Username) && !re.MatchString(u.Email) {
				continue
			}
			accountID, err := getString(txn, userAccountPrefix+u.ID)
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			out = append(out, u.Profile(accountID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// DeleteUser removes the user, its account and all indexes. It holds the
// account lock, so in-flight transfers finish first, and the username and
// email locks, so a concurrent registration of the same names waits for it.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		u         models.User
		accountID string
	)
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, userPrefix+userID, &u); err != nil {
			return err
		}
		var err error
		accountID, err = getString(txn, userAccountPrefix+userID)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return users.ErrUserNotFound
	}
	if err != nil {
		return err
	}

	unlock, err := s.locks.lock(ctx, accountPrefix+accountID, usernamePrefix+u.Username, emailPrefix+u.Email)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(userPrefix + userID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return users.ErrUserNotFound
			}
			return err
		}
		for _, key := range []string{
			userPrefix + userID,
			userAccountPrefix + userID,
			accountPrefix + accountID,
			usernamePrefix + u.Username,
			emailPrefix + u.Email,
		} {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	return conflictErr(err)
}

// conflictErr reports Badger's optimistic-concurrency failure as
// transfer.ErrConflict; nothing was written and the call may be retried.
func conflictErr(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%v: %w", err, transfer.ErrConflict)
	}
	return err
}

func getAccount(txn *badger.Txn, id string) (models.Account, error) {
	var acct models.Account
	err := getJSON(txn, accountPrefix+id, &acct)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Account{}, transfer.ErrAccountNotFound
	}
	return acct, err
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

func putJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}
