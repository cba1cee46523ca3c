package authcore

import (
	"context"
	"errors"
)

// UnlockAccount clears the account's lockout and failure counter.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := e.lockouts.Unlock(ctx, accountID); err != nil {
		return backendError(err)
	}

	e.metrics.Inc(MetricAccountUnlocked)
	e.emit(ctx, AuditEvent{
		Kind:      KindAccountUnlocked,
		AccountID: accountID,
		Success:   true,
	})
	return nil
}

// ChangePassword verifies the current password, rejects reuse and stores
// the new hash. Every refresh chain is revoked so stolen refresh tokens
// die with the old password.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if newPassword == "" {
		return configError("new password must not be empty")
	}

	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return backendError(err)
	}
	if err := checkAccountStatus(account); err != nil {
		return err
	}

	ok, err := e.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil {
		return backendError(err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if oldPassword == newPassword {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return backendError(err)
	}

	if _, err := e.tokens.RevokeAllForAccount(ctx, accountID, "password changed"); err != nil {
		return backendError(err)
	}

	e.metrics.Inc(MetricPasswordChanged)
	e.emit(ctx, AuditEvent{
		Kind:      KindPasswordChanged,
		AccountID: accountID,
		Success:   true,
	})
	return nil
}

// DisableAccount marks the account disabled and revokes its refresh
// chains. Access tokens already issued remain valid until expiry.
func (e *Engine) DisableAccount(ctx context.Context, accountID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := e.accounts.UpdateAccountStatus(ctx, accountID, AccountDisabled); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return backendError(err)
	}
	if _, err := e.tokens.RevokeAllForAccount(ctx, accountID, "account disabled"); err != nil {
		return backendError(err)
	}

	e.emit(ctx, AuditEvent{
		Kind:      KindAccountStatusChanged,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"status": AccountDisabled.String()},
	})
	return nil
}

// EnableAccount returns a disabled account to active.
func (e *Engine) EnableAccount(ctx context.Context, accountID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := e.accounts.UpdateAccountStatus(ctx, accountID, AccountActive); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return backendError(err)
	}

	e.emit(ctx, AuditEvent{
		Kind:      KindAccountStatusChanged,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"status": AccountActive.String()},
	})
	return nil
}
