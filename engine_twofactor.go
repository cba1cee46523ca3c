package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/kyrelabs/authcore/internal"
	"github.com/kyrelabs/authcore/internal/challenge"
)

// VerifyTwoFactor completes a pending login with a TOTP code. The
// challenge reference comes from a Login result with TwoFactorRequired
// set.
//
// Code failures count toward the account lockout threshold exactly like
// wrong passwords, and additionally burn one attempt of the challenge
// budget. A code that matched an already-used time step is rejected as a
// replay. The challenge itself is single-use: its deletion is the commit
// point, so of two concurrent verifications only one obtains tokens.
func (e *Engine) VerifyTwoFactor(ctx context.Context, challengeRef, code string) (*LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	account, record, err := e.loadChallengeAccount(ctx, challengeRef)
	if err != nil {
		return nil, err
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, account.ID)
	if err != nil {
		return nil, backendError(err)
	}
	if twoFactor == nil || !twoFactor.Enabled {
		return nil, ErrTwoFactorNotEnrolled
	}

	matched, counter, err := e.totp.VerifyCode(twoFactor.Secret, code, time.Now())
	if err != nil {
		return nil, backendError(err)
	}
	if matched && counter <= twoFactor.LastStep {
		e.metrics.Inc(MetricTwoFactorReplayAttempt)
		matched = false
	}
	if !matched {
		return nil, e.failTwoFactorAttempt(ctx, account, challengeRef, "totp mismatch")
	}

	if err := e.accounts.UpdateTwoFactorLastStep(ctx, account.ID, counter); err != nil {
		return nil, backendError(err)
	}

	return e.redeemChallenge(ctx, account, record, challengeRef, KindTwoFactorSuccess, MetricTwoFactorSuccess)
}

// VerifyTwoFactorRecovery completes a pending login with a recovery code
// instead of a TOTP code. The code is consumed atomically; a second
// redemption of the same code fails even when racing the first.
func (e *Engine) VerifyTwoFactorRecovery(ctx context.Context, challengeRef, recoveryCode string) (*LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	account, record, err := e.loadChallengeAccount(ctx, challengeRef)
	if err != nil {
		return nil, err
	}

	consumed, err := e.accounts.ConsumeRecoveryCode(ctx, account.ID, internal.HashRecoveryCode(recoveryCode))
	if err != nil {
		return nil, backendError(err)
	}
	if !consumed {
		e.metrics.Inc(MetricRecoveryCodeFailed)
		if failErr := e.failTwoFactorAttempt(ctx, account, challengeRef, "recovery code rejected"); !errors.Is(failErr, ErrTwoFactorInvalid) {
			return nil, failErr
		}
		return nil, ErrRecoveryCodeInvalid
	}

	e.metrics.Inc(MetricRecoveryCodeUsed)
	e.emit(ctx, AuditEvent{
		Kind:      KindRecoveryCodeUsed,
		AccountID: account.ID,
		Success:   true,
	})

	return e.redeemChallenge(ctx, account, record, challengeRef, KindTwoFactorSuccess, MetricTwoFactorSuccess)
}

// loadChallengeAccount resolves a challenge reference to its account.
func (e *Engine) loadChallengeAccount(ctx context.Context, challengeRef string) (*Account, *challenge.Record, error) {
	record, err := e.challenges.Get(ctx, challengeRef)
	if err != nil {
		switch {
		case errors.Is(err, challenge.ErrNotFound):
			return nil, nil, ErrChallengeInvalid
		case errors.Is(err, challenge.ErrExpired):
			return nil, nil, ErrChallengeExpired
		default:
			return nil, nil, backendError(err)
		}
	}

	account, err := e.accounts.GetAccountByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, nil, ErrChallengeInvalid
		}
		return nil, nil, backendError(err)
	}
	if err := checkAccountStatus(account); err != nil {
		return nil, nil, err
	}

	return account, record, nil
}

// failTwoFactorAttempt burns one challenge attempt and one lockout
// credit.
func (e *Engine) failTwoFactorAttempt(ctx context.Context, account *Account, challengeRef, reason string) error {
	e.metrics.Inc(MetricTwoFactorFailure)
	e.emit(ctx, AuditEvent{
		Kind:      KindTwoFactorFailure,
		AccountID: account.ID,
		Error:     reason,
	})

	if _, locked, until, err := e.lockouts.RecordFailure(ctx, account.ID); err != nil {
		return backendError(err)
	} else if locked {
		e.metrics.Inc(MetricAccountLocked)
		e.emit(ctx, AuditEvent{
			Kind:      KindAccountLocked,
			AccountID: account.ID,
			Metadata:  map[string]string{"locked_until": until.UTC().Format(time.RFC3339)},
		})
	}

	exceeded, err := e.challenges.RecordFailure(ctx, challengeRef, e.config.TwoFactor.ChallengeMaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, challenge.ErrNotFound):
			return ErrChallengeInvalid
		case errors.Is(err, challenge.ErrExpired):
			return ErrChallengeExpired
		default:
			return backendError(err)
		}
	}
	if exceeded {
		return ErrChallengeAttemptsExceeded
	}

	return ErrTwoFactorInvalid
}

// redeemChallenge deletes the challenge and, if this call won the delete,
// issues the token pair.
func (e *Engine) redeemChallenge(ctx context.Context, account *Account, _ *challenge.Record, challengeRef string, kind string, metric MetricID) (*LoginResult, error) {
	deleted, err := e.challenges.Delete(ctx, challengeRef)
	if err != nil {
		return nil, backendError(err)
	}
	if !deleted {
		// A concurrent verification redeemed this challenge first.
		return nil, ErrChallengeInvalid
	}

	if err := e.lockouts.RecordSuccess(ctx, account.ID); err != nil {
		return nil, backendError(err)
	}

	result, err := e.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(metric)
	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, AuditEvent{
		Kind:      kind,
		AccountID: account.ID,
		Success:   true,
	})
	return result, nil
}

// BeginTwoFactorEnrollment provisions a new TOTP secret for the account.
// The secret stays disabled until ConfirmTwoFactorEnrollment proves the
// authenticator was set up.
func (e *Engine) BeginTwoFactorEnrollment(ctx context.Context, accountID string) (*TwoFactorProvision, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, backendError(err)
	}
	if err := checkAccountStatus(account); err != nil {
		return nil, err
	}

	if existing, err := e.accounts.GetTwoFactor(ctx, accountID); err != nil {
		return nil, backendError(err)
	} else if existing != nil && existing.Enabled {
		return nil, ErrTwoFactorAlreadyEnrolled
	}

	secret, err := internal.NewTwoFactorSecret()
	if err != nil {
		return nil, err
	}
	if err := e.accounts.SaveTwoFactorSecret(ctx, accountID, secret); err != nil {
		return nil, backendError(err)
	}

	encoded := e.totp.EncodeSecret(secret)
	identifier := account.Email
	if identifier == "" {
		identifier = account.Username
	}

	return &TwoFactorProvision{
		Secret: encoded,
		URI:    e.totp.ProvisionURI(encoded, identifier),
	}, nil
}

// ConfirmTwoFactorEnrollment verifies a code against the pending secret,
// enables two-factor and installs a fresh recovery code batch. The
// returned cleartext codes are shown once and never stored.
func (e *Engine) ConfirmTwoFactorEnrollment(ctx context.Context, accountID, code string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, accountID)
	if err != nil {
		return nil, backendError(err)
	}
	if twoFactor == nil || len(twoFactor.Secret) == 0 {
		return nil, ErrTwoFactorNotEnrolled
	}
	if twoFactor.Enabled {
		return nil, ErrTwoFactorAlreadyEnrolled
	}

	matched, counter, err := e.totp.VerifyCode(twoFactor.Secret, code, time.Now())
	if err != nil {
		return nil, backendError(err)
	}
	if !matched {
		return nil, ErrTwoFactorInvalid
	}

	if err := e.accounts.UpdateTwoFactorLastStep(ctx, accountID, counter); err != nil {
		return nil, backendError(err)
	}
	if err := e.accounts.EnableTwoFactor(ctx, accountID); err != nil {
		return nil, backendError(err)
	}

	codes, err := e.installRecoveryCodes(ctx, accountID)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, AuditEvent{
		Kind:      KindTwoFactorEnrolled,
		AccountID: accountID,
		Success:   true,
	})
	return codes, nil
}

// DisableTwoFactor turns two-factor off after a final code check, and
// invalidates every outstanding recovery code.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, accountID)
	if err != nil {
		return backendError(err)
	}
	if twoFactor == nil || !twoFactor.Enabled {
		return ErrTwoFactorNotEnrolled
	}

	matched, counter, err := e.totp.VerifyCode(twoFactor.Secret, code, time.Now())
	if err != nil {
		return backendError(err)
	}
	if !matched || counter <= twoFactor.LastStep {
		return ErrTwoFactorInvalid
	}

	if err := e.accounts.DisableTwoFactor(ctx, accountID); err != nil {
		return backendError(err)
	}
	if err := e.accounts.ReplaceRecoveryCodes(ctx, accountID, nil); err != nil {
		return backendError(err)
	}

	e.emit(ctx, AuditEvent{
		Kind:      KindTwoFactorDisabled,
		AccountID: accountID,
		Success:   true,
	})
	return nil
}
