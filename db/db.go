package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
)

// Open connects to Postgres through the pgx stdlib driver and waits until
// the server answers, retrying up to attempts times.
func Open(ctx context.Context, url string, attempts int) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	for i := 1; ; i++ {
		err = db.PingContext(ctx)
		if err == nil || i >= attempts {
			break
		}
		slog.WarnContext(ctx, "waiting for database", slog.Int("attempt", i), slog.Int("max_attempts", attempts))
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Initialize creates the schema if it does not exist yet.
func Initialize(ctx context.Context, db *sql.DB) error {
	// 1. Create Users Table
	queryUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username VARCHAR(64) UNIQUE NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.ExecContext(ctx, queryUsers); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	// 2. Create Accounts Table
	// Balances are whole cents; the CHECK keeps them non-negative even if a
	// writer bypasses the transfer path.
	queryAccounts := `
	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		user_id UUID UNIQUE NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		balance BIGINT NOT NULL CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.ExecContext(ctx, queryAccounts); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}

	return nil
}
