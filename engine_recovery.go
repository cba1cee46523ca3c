package authcore

import (
	"context"
	"time"

	"github.com/kyrelabs/authcore/internal"
)

// RegenerateRecoveryCodes swaps the account's recovery code batch for a
// fresh one after a TOTP check. The old batch is invalidated atomically
// with the install; there is no window where both batches redeem.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, accountID)
	if err != nil {
		return nil, backendError(err)
	}
	if twoFactor == nil || !twoFactor.Enabled {
		return nil, ErrTwoFactorNotEnrolled
	}

	matched, counter, err := e.totp.VerifyCode(twoFactor.Secret, totpCode, time.Now())
	if err != nil {
		return nil, backendError(err)
	}
	if !matched || counter <= twoFactor.LastStep {
		return nil, ErrTwoFactorInvalid
	}
	if err := e.accounts.UpdateTwoFactorLastStep(ctx, accountID, counter); err != nil {
		return nil, backendError(err)
	}

	return e.installRecoveryCodes(ctx, accountID)
}

// installRecoveryCodes generates a batch, stores the hashes and returns
// the cleartext codes. The store replaces the old batch in one step.
func (e *Engine) installRecoveryCodes(ctx context.Context, accountID string) ([]string, error) {
	count := e.config.TwoFactor.RecoveryCodeCount
	length := e.config.TwoFactor.RecoveryCodeLength

	codes := make([]string, 0, count)
	hashes := make([]RecoveryCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewRecoveryCode(length)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, RecoveryCodeRecord{Hash: internal.HashRecoveryCode(code)})
	}

	if err := e.accounts.ReplaceRecoveryCodes(ctx, accountID, hashes); err != nil {
		return nil, backendError(err)
	}

	e.metrics.Inc(MetricRecoveryCodesReplaced)
	e.emit(ctx, AuditEvent{
		Kind:      KindRecoveryCodesReplaced,
		AccountID: accountID,
		Success:   true,
	})
	return codes, nil
}
