package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyrelabs/authcore"
)

const defaultAttemptLimit = 100

// AttemptStore implements authcore.LoginAttemptStore on an append-only
// auth_login_attempts table.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) Append(ctx context.Context, attempt authcore.LoginAttempt) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO auth_login_attempts
			(id, account_id, identifier, succeeded, failure_reason, ip, user_agent, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id.String(), nullable(attempt.AccountID), nullable(attempt.Identifier),
		attempt.Succeeded, nullable(attempt.FailureReason),
		nullable(attempt.IP), nullable(attempt.UserAgent), attempt.At.UTC())
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// List returns attempts newest first, filtered and paged by the plain
// filter struct.
func (s *AttemptStore) List(ctx context.Context, filter authcore.AttemptFilter) ([]authcore.LoginAttempt, error) {
	var clauses []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AccountID != "" {
		clauses = append(clauses, "account_id = "+arg(filter.AccountID))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "at >= "+arg(filter.Since.UTC()))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "at < "+arg(filter.Until.UTC()))
	}
	if filter.SucceededOnly {
		clauses = append(clauses, "succeeded")
	}
	if filter.FailedOnly {
		clauses = append(clauses, "NOT succeeded")
	}

	query := `
		SELECT id, COALESCE(account_id, ''), COALESCE(identifier, ''), succeeded,
			COALESCE(failure_reason, ''), COALESCE(ip, ''), COALESCE(user_agent, ''), at
		FROM auth_login_attempts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query login attempts: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (authcore.LoginAttempt, error) {
		var attempt authcore.LoginAttempt
		err := row.Scan(&attempt.ID, &attempt.AccountID, &attempt.Identifier,
			&attempt.Succeeded, &attempt.FailureReason, &attempt.IP,
			&attempt.UserAgent, &attempt.At)
		return attempt, err
	})
}

// nullable maps empty strings to SQL NULL.
func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
