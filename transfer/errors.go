package transfer

import "errors"

// Kind classifies a transfer failure for callers and transports.
type Kind string

const (
	KindNone                     Kind = ""
	KindUnauthenticated          Kind = "unauthenticated"
	KindInvalidAmount            Kind = "invalid_amount"
	KindSenderAccountNotFound    Kind = "sender_account_not_found"
	KindInsufficientFunds        Kind = "insufficient_funds"
	KindRecipientAccountNotFound Kind = "recipient_account_not_found"
	KindSelfTransfer             Kind = "self_transfer"
	KindForbidden                Kind = "forbidden"
	KindConflict                 Kind = "conflict"
	KindInternal                 Kind = "internal"
)

var (
	ErrUnauthenticated          = errors.New("caller is not authenticated")
	ErrInvalidAmount            = errors.New("amount must be a positive number of minor units")
	ErrSenderAccountNotFound    = errors.New("sender bank account not found")
	ErrInsufficientFunds        = errors.New("insufficient balance")
	ErrRecipientAccountNotFound = errors.New("recipient account not found")
	ErrSelfTransfer             = errors.New("cannot transfer to the same account")
	ErrForbidden                = errors.New("account belongs to another user")
	// ErrConflict means a concurrent writer invalidated the transaction. Nothing
	// was applied and the request may be retried.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrAccountNotFound is returned by AccountStore.Get.
	ErrAccountNotFound = errors.New("account not found")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrSenderAccountNotFound, KindSenderAccountNotFound},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrRecipientAccountNotFound, KindRecipientAccountNotFound},
	{ErrSelfTransfer, KindSelfTransfer},
	{ErrForbidden, KindForbidden},
	{ErrConflict, KindConflict},
}

// KindOf maps err to its Kind. Unknown errors, including store I/O failures,
// are KindInternal; a nil error is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
