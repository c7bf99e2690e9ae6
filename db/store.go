package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/telemetry"
	"github.com/yashasviy/peer-transfer-api/transfer"
	"github.com/yashasviy/peer-transfer-api/users"
)

var dbTracer = otel.Tracer("postgres")

// Postgres error codes the store reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeNumericOutOfRange    = "22003"
	codeInvalidRegex         = "2201B"
)

// Store implements transfer.AccountStore and users.Directory on Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func()) {
	start := time.Now()
	ctx, span := dbTracer.Start(ctx, "postgres."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
		}, attrs...)...))
	return ctx, span, func() {
		telemetry.DBQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// Get returns one account. Identifiers that are not UUIDs cannot exist.
func (s *Store) Get(ctx context.Context, accountID string) (models.Account, error) {
	ctx, span, end := s.startSpan(ctx, "get_account")
	defer end()

	if _, err := uuid.Parse(accountID); err != nil {
		return models.Account{}, transfer.ErrAccountNotFound
	}

	var a models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&a.ID, &a.UserID, &a.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, transfer.ErrAccountNotFound
	}
	if err != nil {
		span.RecordError(err)
		return models.Account{}, classify(err)
	}
	return a, nil
}

// ApplyAtomic locks both rows in id order, re-validates them and moves the
// funds inside one transaction.
func (s *Store) ApplyAtomic(ctx context.Context, senderID, recipientID string, amount int64) (int64, error) {
	ctx, span, end := s.startSpan(ctx, "transfer",
		attribute.String("sender_account", senderID),
		attribute.String("recipient_account", recipientID))
	defer end()

	if amount <= 0 {
		return 0, transfer.ErrInvalidAmount
	}
	if senderID == recipientID {
		return 0, transfer.ErrSelfTransfer
	}
	if _, err := uuid.Parse(senderID); err != nil {
		return 0, transfer.ErrSenderAccountNotFound
	}
	if _, err := uuid.Parse(recipientID); err != nil {
		return 0, transfer.ErrRecipientAccountNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, classify(err)
	}
	defer tx.Rollback() // no-op if already committed

	// Rows are locked in ascending id order whatever the roles, so two
	// transfers crossing in opposite directions queue instead of deadlocking.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, balance FROM accounts WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`,
		senderID, recipientID)
	if err != nil {
		span.RecordError(err)
		return 0, classify(err)
	}
	balances := make(map[string]int64, 2)
	for rows.Next() {
		var id string
		var balance int64
		if err := rows.Scan(&id, &balance); err != nil {
			rows.Close()
			return 0, classify(err)
		}
		balances[id] = balance
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, classify(err)
	}
	rows.Close()

	from, ok := balances[senderID]
	if !ok {
		return 0, transfer.ErrSenderAccountNotFound
	}
	to, ok := balances[recipientID]
	if !ok {
		return 0, transfer.ErrRecipientAccountNotFound
	}
	if from < amount {
		return 0, transfer.ErrInsufficientFunds
	}
	if to > math.MaxInt64-amount {
		return 0, fmt.Errorf("credit overflows recipient balance: %w", transfer.ErrInvalidAmount)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = balance - $1 WHERE id = $2`, amount, senderID); err != nil {
		span.RecordError(err)
		return 0, classify(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = balance + $1 WHERE id = $2`, amount, recipientID); err != nil {
		span.RecordError(err)
		return 0, classify(err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return 0, classify(err)
	}
	return from - amount, nil
}

// CreateUser inserts the user and its account in one transaction.
func (s *Store) CreateUser(ctx context.Context, user models.User, account models.Account) error {
	ctx, span, end := s.startSpan(ctx, "create_user")
	defer end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback() // no-op if already committed

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt,
	); err != nil {
		span.RecordError(err)
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, balance) VALUES ($1, $2, $3)`,
		account.ID, account.UserID, account.Balance,
	); err != nil {
		span.RecordError(err)
		return classify(err)
	}
	return classify(tx.Commit())
}

// FindUser matches a non-empty username or email.
func (s *Store) FindUser(ctx context.Context, username, email string) (models.User, error) {
	ctx, span, end := s.startSpan(ctx, "find_user")
	defer end()

	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		ORDER BY username = $1 DESC
		LIMIT 1`, username, email,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, users.ErrUserNotFound
	}
	if err != nil {
		span.RecordError(err)
		return models.User{}, classify(err)
	}
	return u, nil
}

// AccountByUser returns the account owned by userID.
func (s *Store) AccountByUser(ctx context.Context, userID string) (models.Account, error) {
	ctx, span, end := s.startSpan(ctx, "account_by_user")
	defer end()

	if _, err := uuid.Parse(userID); err != nil {
		return models.Account{}, transfer.ErrAccountNotFound
	}

	var a models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, balance FROM accounts WHERE user_id = $1`, userID,
	).Scan(&a.ID, &a.UserID, &a.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, transfer.ErrAccountNotFound
	}
	if err != nil {
		span.RecordError(err)
		return models.Account{}, classify(err)
	}
	return a, nil
}

// SearchProfiles matches filter case-insensitively (POSIX regex) against
// username and email.
func (s *Store) SearchProfiles(ctx context.Context, filter string) ([]models.UserProfile, error) {
	ctx, span, end := s.startSpan(ctx, "search_users")
	defer end()

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, COALESCE(a.id::text, '')
		FROM users u
		LEFT JOIN accounts a ON a.user_id = u.id
		WHERE $1 = '' OR u.username ~* $1 OR u.email ~* $1
		ORDER BY u.username`, filter)
	if err != nil {
		span.RecordError(err)
		return nil, classify(err)
	}
	defer rows.Close()

	var out []models.UserProfile
	for rows.Next() {
		var p models.UserProfile
		if err := rows.Scan(&p.ID, &p.Username, &p.Email, &p.AccountID); err != nil {
			return nil, classify(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// DeleteUser removes the account and then the user. The account row lock
// waits for in-flight transfers touching it.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	ctx, span, end := s.startSpan(ctx, "delete_user")
	defer end()

	if _, err := uuid.Parse(userID); err != nil {
		return users.ErrUserNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback() // no-op if already committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = $1`, userID); err != nil {
		span.RecordError(err)
		return classify(err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		span.RecordError(err)
		return classify(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return users.ErrUserNotFound
	}
	return classify(tx.Commit())
}

// classify maps Postgres failures onto the domain errors callers understand
// and passes everything else through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%s: %w", pgErr.Message, transfer.ErrConflict)
	case codeCheckViolation:
		return fmt.Errorf("%s: %w", pgErr.Message, transfer.ErrInsufficientFunds)
	case codeNumericOutOfRange:
		return fmt.Errorf("%s: %w", pgErr.Message, transfer.ErrInvalidAmount)
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, users.ErrUserExists)
	case codeInvalidRegex:
		return fmt.Errorf("%s: %w", pgErr.Message, users.ErrInvalidFilter)
	}
	return err
}
