package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/telemetry"
)

var tracer = otel.Tracer("transfer")

const (
	// DefaultMaxRetries is how often a conflicting transfer is retried
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the step of the linear backoff between retries
	DefaultRetryBackoff = 10 * time.Millisecond

	// DefaultTimeout bounds the store calls of one Execute or Balance
	DefaultTimeout = 5 * time.Second
)

// Request is a validated transfer order. The sender is always the caller.
type Request struct {
	RecipientAccountID string
	Amount             int64
}

// Result describes a committed transfer.
type Result struct {
	TransferID             string
	SenderAccountID        string
	RecipientAccountID     string
	Amount                 int64
	SenderRemainingBalance int64
}

// Engine executes transfers against an AccountStore. It keeps no state between
// calls and is safe for concurrent use.
type Engine struct {
	store        AccountStore
	publisher    Publisher
	logger       *slog.Logger
	maxRetries   int
	retryBackoff time.Duration
	timeout      time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the sink for completed transfers.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithRetry bounds how often a conflicting ApplyAtomic is retried and the
// linear backoff between attempts.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.maxRetries = maxRetries
		e.retryBackoff = backoff
	}
}

// WithTimeout bounds every store call made by one Execute or Balance.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over store.
func NewEngine(store AccountStore, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		logger:       slog.Default(),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "transfer"))
	return e
}

// Execute moves req.Amount from the caller's account to req.RecipientAccountID.
//
// Checks run in a fixed order and the first failure wins: authentication,
// amount, sender existence, sender funds, recipient existence, self-transfer.
// The funds check deliberately precedes the recipient lookup. The debit and
// credit are then applied atomically by the store.
func (e *Engine) Execute(ctx context.Context, caller models.CallerIdentity, req Request) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "transfer.Execute",
		trace.WithAttributes(
			attribute.String("sender_account", caller.AccountID),
			attribute.String("recipient_account", req.RecipientAccountID),
			attribute.Int64("amount", req.Amount),
		))
	defer span.End()

	res, err := e.execute(ctx, caller, req)

	kind := KindOf(err)
	outcome := string(kind)
	if err == nil {
		outcome = "success"
	}
	telemetry.TransfersTotal.WithLabelValues(outcome).Inc()
	telemetry.TransferDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetAttributes(attribute.String("failure_kind", string(kind)))
		span.SetStatus(codes.Error, err.Error())
		if kind == KindInternal {
			span.RecordError(err)
			e.logger.ErrorContext(ctx, "transfer failed", slog.String("sender", caller.AccountID),
				slog.String("recipient", req.RecipientAccountID), slog.Any("error", err))
		} else {
			e.logger.InfoContext(ctx, "transfer rejected", slog.String("kind", string(kind)),
				slog.String("sender", caller.AccountID), slog.String("recipient", req.RecipientAccountID))
		}
		return Result{}, err
	}

	telemetry.TransferAmount.Observe(float64(res.Amount))
	span.SetAttributes(attribute.String("transfer_id", res.TransferID))
	span.SetStatus(codes.Ok, "")
	e.logger.InfoContext(ctx, "transfer committed",
		slog.String("transfer_id", res.TransferID),
		slog.String("sender", res.SenderAccountID),
		slog.String("recipient", res.RecipientAccountID),
		slog.Int64("amount", res.Amount))

	if e.publisher != nil {
		if err := e.publisher.PublishTransfer(ctx, res); err != nil {
			e.logger.WarnContext(ctx, "failed to publish transfer", slog.String("transfer_id", res.TransferID), slog.Any("error", err))
		}
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, caller models.CallerIdentity, req Request) (Result, error) {
	if !caller.Authenticated() {
		return Result{}, ErrUnauthenticated
	}
	if req.Amount <= 0 {
		return Result{}, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	sender, err := e.store.Get(ctx, caller.AccountID)
	switch {
	case err == nil:
	case errors.Is(err, ErrAccountNotFound):
		return Result{}, ErrSenderAccountNotFound
	default:
		return Result{}, fmt.Errorf("load sender account: %w", err)
	}

	if req.Amount > sender.Balance {
		return Result{}, ErrInsufficientFunds
	}

	recipient, err := e.store.Get(ctx, req.RecipientAccountID)
	switch {
	case err == nil:
	case errors.Is(err, ErrAccountNotFound):
		return Result{}, ErrRecipientAccountNotFound
	default:
		return Result{}, fmt.Errorf("load recipient account: %w", err)
	}

	if sender.ID == recipient.ID {
		return Result{}, ErrSelfTransfer
	}

	remaining, err := e.apply(ctx, sender.ID, recipient.ID, req.Amount)
	if err != nil {
		return Result{}, err
	}

	return Result{
		TransferID:             uuid.Must(uuid.NewV7()).String(),
		SenderAccountID:        sender.ID,
		RecipientAccountID:     recipient.ID,
		Amount:                 req.Amount,
		SenderRemainingBalance: remaining,
	}, nil
}

// apply runs ApplyAtomic, retrying conflicts. A context that is already done
// stops the loop before the next attempt starts.
func (e *Engine) apply(ctx context.Context, senderID, recipientID string, amount int64) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			telemetry.TransferConflictRetries.Inc()
			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("retry after conflict: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * e.retryBackoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("apply transfer: %w", err)
		}

		remaining, err := e.store.ApplyAtomic(ctx, senderID, recipientID, amount)
		if err == nil {
			return remaining, nil
		}
		if KindOf(err) != KindConflict {
			if KindOf(err) == KindInternal {
				return 0, fmt.Errorf("apply transfer: %w", err)
			}
			return 0, err
		}
		lastErr = err
		trace.SpanFromContext(ctx).AddEvent("conflict", trace.WithAttributes(attribute.Int("attempt", attempt+1)))
	}
	return 0, lastErr
}

// Balance returns the account of the caller. A non-empty accountID must name
// the caller's own account; any other account is ErrForbidden.
func (e *Engine) Balance(ctx context.Context, caller models.CallerIdentity, accountID string) (models.Account, error) {
	ctx, span := tracer.Start(ctx, "transfer.Balance")
	defer span.End()

	if !caller.Authenticated() {
		return models.Account{}, ErrUnauthenticated
	}
	if accountID != "" && accountID != caller.AccountID {
		span.SetStatus(codes.Error, "forbidden")
		return models.Account{}, ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	acct, err := e.store.Get(ctx, caller.AccountID)
	switch {
	case err == nil:
	case errors.Is(err, ErrAccountNotFound):
		return models.Account{}, ErrSenderAccountNotFound
	default:
		span.RecordError(err)
		return models.Account{}, fmt.Errorf("load account: %w", err)
	}
	if acct.UserID != "" && acct.UserID != caller.UserID {
		return models.Account{}, ErrForbidden
	}
	return acct, nil
}
