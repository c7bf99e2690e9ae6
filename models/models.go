package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the balance of one user, in minor currency units (cents).
type Account struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// User is a registered account holder.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserProfile is the public view of a user. It never carries a balance.
type UserProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AccountID string `json:"account_id"`
}

// Profile projects u onto its public fields.
func (u User) Profile(accountID string) UserProfile {
	return UserProfile{ID: u.ID, Username: u.Username, Email: u.Email, AccountID: accountID}
}

// CallerIdentity is the authenticated principal of a request, resolved once
// by the authentication middleware and passed by value to the engine.
type CallerIdentity struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
}

// Authenticated reports whether the identity was resolved from a valid session.
func (c CallerIdentity) Authenticated() bool {
	return c.AccountID != "" && c.UserID != ""
}

// TransferRequest is what the user sends in the API call. Amount accepts a
// JSON number or string ("30.00").
type TransferRequest struct {
	To     string          `json:"to" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferResponse is the success payload of a transfer.
type TransferResponse struct {
	TransferID             string `json:"transfer_id"`
	SenderAccountID        string `json:"sender_account_id"`
	RecipientAccountID     string `json:"recipient_account_id"`
	Amount                 string `json:"amount"`
	SenderRemainingBalance string `json:"sender_remaining_balance"`
}

// BalanceResponse is the payload of a balance query.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

// Response is the envelope of every API reply.
type Response struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody names the failure kind so clients can branch on it.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
