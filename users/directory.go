package users

import (
	"context"
	"errors"
	"time"

	"github.com/yashasviy/peer-transfer-api/models"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidFilter      = errors.New("invalid filter")
)

// Directory persists users together with their single bank account.
type Directory interface {
	// CreateUser stores user and account in one transaction. A taken
	// username or email is ErrUserExists.
	CreateUser(ctx context.Context, user models.User, account models.Account) error
	// FindUser returns the user whose username or email matches. Empty
	// arguments never match.
	FindUser(ctx context.Context, username, email string) (models.User, error)
	AccountByUser(ctx context.Context, userID string) (models.Account, error)
	// SearchProfiles lists users whose username or email matches the
	// case-insensitive regular expression filter; an empty filter lists all.
	SearchProfiles(ctx context.Context, filter string) ([]models.UserProfile, error)
	// DeleteUser removes the user and its account in one transaction.
	DeleteUser(ctx context.Context, userID string) error
}

// Sessions issues and revokes bearer tokens.
type Sessions interface {
	Issue(ctx context.Context, caller models.CallerIdentity) (token string, expiresAt time.Time, err error)
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, userID string) error
}
