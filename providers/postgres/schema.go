package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema statements are idempotent so EnsureSchema can run on every
// startup. Hosts that manage migrations themselves can apply the same
// DDL through their own tooling and skip EnsureSchema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active',
		roles         TEXT[] NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS account_two_factor (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		secret     BYTEA NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT FALSE,
		last_step  BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS account_recovery_codes (
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		code_hash  BYTEA NOT NULL,
		used_at    TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account_id, code_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS auth_login_attempts (
		id             TEXT PRIMARY KEY,
		account_id     TEXT,
		identifier     TEXT,
		succeeded      BOOLEAN NOT NULL,
		failure_reason TEXT,
		ip             TEXT,
		user_agent     TEXT,
		at             TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS auth_login_attempts_account_at_idx
		ON auth_login_attempts (account_id, at DESC)`,
}

// EnsureSchema creates the tables this package needs.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
