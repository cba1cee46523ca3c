package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/kyrelabs/authcore/internal"
	"github.com/kyrelabs/authcore/internal/challenge"
)

// Login authenticates an identifier/password pair.
//
// The outcome is one of:
//   - tokens, when the password verifies and two-factor is not enrolled
//   - a LoginResult with TwoFactorRequired set and a ChallengeRef, when
//     two-factor is enrolled (this is not an error)
//   - ErrInvalidCredentials, covering unknown identifier and wrong
//     password alike
//   - *AccountLockedError while a lockout is in effect
//   - ErrAccountInactive for non-active accounts
//
// Failed attempts count toward the lockout threshold; the attempt that
// trips the threshold still reports ErrInvalidCredentials, and the lock
// is observed from the next attempt on.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := e.accounts.GetAccountByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn the same argon2 work as a real verification so an
			// unknown identifier is not timing-distinguishable from a
			// wrong password.
			_, _ = e.hasher.Verify(password, e.decoyHash)
			e.metrics.Inc(MetricLoginFailure)
			e.emit(ctx, AuditEvent{
				Kind:       KindLoginFailure,
				Identifier: identifier,
				Error:      "unknown identifier",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, backendError(err)
	}

	if err := checkAccountStatus(account); err != nil {
		e.emit(ctx, AuditEvent{
			Kind:      KindLoginFailure,
			AccountID: account.ID,
			Error:     "account " + account.Status.String(),
		})
		return nil, err
	}

	if locked, until, err := e.lockouts.Status(ctx, account.ID); err != nil {
		return nil, backendError(err)
	} else if locked {
		e.metrics.Inc(MetricLoginLocked)
		e.emit(ctx, AuditEvent{
			Kind:      KindLoginLocked,
			AccountID: account.ID,
			Metadata:  map[string]string{"locked_until": until.UTC().Format(time.RFC3339)},
		})
		return nil, &AccountLockedError{Until: until}
	}

	ok, err := e.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, backendError(err)
	}
	if !ok {
		return nil, e.failCredentialCheck(ctx, account, "wrong password")
	}

	if err := e.lockouts.RecordSuccess(ctx, account.ID); err != nil {
		return nil, backendError(err)
	}

	e.maybeUpgradeHash(ctx, account, password)

	if account.TwoFactorEnabled {
		return e.beginTwoFactorChallenge(ctx, account)
	}

	result, err := e.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, AuditEvent{
		Kind:      KindLoginSuccess,
		AccountID: account.ID,
		Success:   true,
	})
	return result, nil
}

// failCredentialCheck registers a failed password or two-factor attempt
// against the shared lockout counter and returns the caller-facing
// credential error. Credential failures never reveal whether this was the
// attempt that tripped the lock.
func (e *Engine) failCredentialCheck(ctx context.Context, account *Account, reason string) error {
	e.metrics.Inc(MetricLoginFailure)

	_, locked, until, err := e.lockouts.RecordFailure(ctx, account.ID)
	if err != nil {
		return backendError(err)
	}

	e.emit(ctx, AuditEvent{
		Kind:      KindLoginFailure,
		AccountID: account.ID,
		Error:     reason,
	})
	if locked {
		e.metrics.Inc(MetricAccountLocked)
		e.emit(ctx, AuditEvent{
			Kind:      KindAccountLocked,
			AccountID: account.ID,
			Metadata:  map[string]string{"locked_until": until.UTC().Format(time.RFC3339)},
		})
	}

	return ErrInvalidCredentials
}

// maybeUpgradeHash re-hashes the password after a successful verify when
// the stored digest uses weaker parameters. Best effort: a failure here
// never fails the login.
func (e *Engine) maybeUpgradeHash(ctx context.Context, account *Account, password string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	upgrade, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	newHash, err := e.hasher.Hash(password)
	if err != nil {
		return
	}
	_ = e.accounts.UpdatePasswordHash(ctx, account.ID, newHash)
}

// beginTwoFactorChallenge parks the half-finished login in the challenge
// store and hands the reference back to the client.
func (e *Engine) beginTwoFactorChallenge(ctx context.Context, account *Account) (*LoginResult, error) {
	ref, err := internal.NewChallengeRef()
	if err != nil {
		return nil, err
	}

	record := &challenge.Record{
		AccountID: account.ID,
		IP:        clientIPFromContext(ctx),
		ExpiresAt: time.Now().Add(e.config.TwoFactor.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, ref, record, e.config.TwoFactor.ChallengeTTL); err != nil {
		return nil, backendError(err)
	}

	e.metrics.Inc(MetricTwoFactorRequired)
	e.emit(ctx, AuditEvent{
		Kind:      KindTwoFactorRequired,
		AccountID: account.ID,
		Success:   true,
	})

	return &LoginResult{
		TwoFactorRequired: true,
		ChallengeRef:      ref,
	}, nil
}
