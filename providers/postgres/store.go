// Package postgres implements the authcore persistence interfaces on a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyrelabs/authcore"
)

// Store implements authcore.AccountStore.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const accountColumns = `a.id, a.username, a.email, a.password_hash, a.status, a.roles,
	COALESCE(tf.enabled, FALSE)`

func scanAccount(row pgx.Row) (*authcore.Account, error) {
	var account authcore.Account
	var status string
	err := row.Scan(&account.ID, &account.Username, &account.Email,
		&account.PasswordHash, &status, &account.Roles, &account.TwoFactorEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	account.Status = parseStatus(status)
	return &account, nil
}

func parseStatus(status string) authcore.AccountStatus {
	switch status {
	case "active":
		return authcore.AccountActive
	case "pending_verification":
		return authcore.AccountPendingVerification
	case "disabled":
		return authcore.AccountDisabled
	case "deleted":
		return authcore.AccountDeleted
	}
	// Unknown statuses are treated as not usable for login.
	return authcore.AccountDisabled
}

// GetAccountByIdentifier looks an account up by username or email,
// case-insensitively.
func (s *Store) GetAccountByIdentifier(ctx context.Context, identifier string) (*authcore.Account, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts a
		LEFT JOIN account_two_factor tf ON tf.account_id = a.id
		WHERE LOWER(a.username) = $1 OR LOWER(a.email) = $1
	`, identifier)
	return scanAccount(row)
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*authcore.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts a
		LEFT JOIN account_two_factor tf ON tf.account_id = a.id
		WHERE a.id = $1
	`, id)
	return scanAccount(row)
}

// CreateAccount inserts a new account row and returns its generated ID.
func (s *Store) CreateAccount(ctx context.Context, username, email, passwordHash string, roles []string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	if roles == nil {
		roles = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, status, roles)
		VALUES ($1, $2, $3, $4, 'active', $5)
	`, id.String(), username, strings.ToLower(email), passwordHash, roles)
	if err != nil {
		return "", fmt.Errorf("insert account: %w", err)
	}
	return id.String(), nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, id string, status authcore.AccountStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status.String())
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// GetTwoFactor returns nil without error when the account has no
// enrollment row.
func (s *Store) GetTwoFactor(ctx context.Context, id string) (*authcore.TwoFactorRecord, error) {
	var record authcore.TwoFactorRecord
	err := s.pool.QueryRow(ctx, `
		SELECT secret, enabled, last_step FROM account_two_factor WHERE account_id = $1
	`, id).Scan(&record.Secret, &record.Enabled, &record.LastStep)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query two factor: %w", err)
	}
	return &record, nil
}

// SaveTwoFactorSecret installs a pending secret. An existing pending
// secret is overwritten; an enabled enrollment is reset to pending with
// the new secret.
func (s *Store) SaveTwoFactorSecret(ctx context.Context, id string, secret []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_two_factor (account_id, secret, enabled, last_step, updated_at)
		VALUES ($1, $2, FALSE, 0, NOW())
		ON CONFLICT (account_id) DO UPDATE
		SET secret = EXCLUDED.secret, enabled = FALSE, last_step = 0, updated_at = NOW()
	`, id, secret)
	if err != nil {
		return fmt.Errorf("save two factor secret: %w", err)
	}
	return nil
}

func (s *Store) EnableTwoFactor(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE account_two_factor SET enabled = TRUE, updated_at = NOW() WHERE account_id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("enable two factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrTwoFactorNotEnrolled
	}
	return nil
}

func (s *Store) DisableTwoFactor(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM account_two_factor WHERE account_id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("disable two factor: %w", err)
	}
	return nil
}

// UpdateTwoFactorLastStep only advances; a smaller step never overwrites
// a larger one, so concurrent verifications cannot roll the replay guard
// back.
func (s *Store) UpdateTwoFactorLastStep(ctx context.Context, id string, step int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE account_two_factor
		SET last_step = GREATEST(last_step, $2), updated_at = NOW()
		WHERE account_id = $1
	`, id, step)
	if err != nil {
		return fmt.Errorf("update two factor step: %w", err)
	}
	return nil
}

// ReplaceRecoveryCodes deletes the old batch and inserts the new one in a
// single transaction.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, id string, codes []authcore.RecoveryCodeRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM account_recovery_codes WHERE account_id = $1
	`, id); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}

	now := time.Now().UTC()
	for _, code := range codes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_recovery_codes (account_id, code_hash, created_at)
			VALUES ($1, $2, $3)
		`, id, code.Hash[:], now); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode redeems a code with one conditional UPDATE. The
// used_at IS NULL guard makes the redemption single-use even under
// concurrent attempts.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, id string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE account_recovery_codes
		SET used_at = NOW()
		WHERE account_id = $1 AND code_hash = $2 AND used_at IS NULL
	`, id, hash[:])
	if err != nil {
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
