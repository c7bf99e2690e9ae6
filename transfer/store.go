package transfer

import (
	"context"

	"github.com/yashasviy/peer-transfer-api/models"
)

// AccountStore is the durable account collaborator of the Engine.
//
// ApplyAtomic debits senderID and credits recipientID by amount inside one
// transaction and returns the sender balance after the debit. It re-checks
// both accounts and the sender's funds under its own isolation and reports
// ErrSenderAccountNotFound, ErrRecipientAccountNotFound, ErrInsufficientFunds,
// ErrInvalidAmount (credit overflow) or ErrConflict. Whatever it returns,
// either both writes are durable or neither is.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (models.Account, error)
	ApplyAtomic(ctx context.Context, senderID, recipientID string, amount int64) (int64, error)
}

// Publisher receives completed transfers. Failures are logged, never returned
// to the caller of Execute.
type Publisher interface {
	PublishTransfer(ctx context.Context, result Result) error
}
