package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// password. Callers cannot distinguish the two cases.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout is in effect. The
	// concrete error is an *AccountLockedError carrying the expiry.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned for disabled, deleted or otherwise
	// non-active accounts.
	ErrAccountInactive = errors.New("account inactive")

	// ErrTwoFactorInvalid means the submitted TOTP code did not verify.
	// These failures count toward the account lockout threshold.
	ErrTwoFactorInvalid = errors.New("two-factor code invalid")
	// ErrTwoFactorNotEnrolled is returned when a two-factor operation is
	// attempted on an account without an enrolled secret.
	ErrTwoFactorNotEnrolled = errors.New("two-factor not enrolled")
	// ErrTwoFactorAlreadyEnrolled guards against re-enrolling over an
	// active secret without disabling first.
	ErrTwoFactorAlreadyEnrolled = errors.New("two-factor already enrolled")

	// ErrChallengeInvalid means the challenge reference is unknown or was
	// already redeemed. The client must restart the login flow.
	ErrChallengeInvalid = errors.New("two-factor challenge invalid")
	// ErrChallengeExpired means the challenge TTL elapsed before
	// verification completed.
	ErrChallengeExpired = errors.New("two-factor challenge expired")
	// ErrChallengeAttemptsExceeded means the per-challenge attempt budget
	// was consumed. The challenge is deleted when this fires.
	ErrChallengeAttemptsExceeded = errors.New("two-factor challenge attempts exceeded")

	// ErrRecoveryCodeInvalid means the recovery code is unknown or was
	// already consumed.
	ErrRecoveryCodeInvalid = errors.New("recovery code invalid")

	// ErrRefreshInvalid covers malformed, unknown, expired and revoked
	// refresh tokens.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrRefreshReplayDetected fires when an already-rotated refresh token
	// is presented again. The account's entire token chain is revoked as a
	// side effect before this is returned.
	ErrRefreshReplayDetected = errors.New("refresh token replay detected")

	// ErrTokenInvalid covers tampered, malformed and otherwise
	// unverifiable access tokens.
	ErrTokenInvalid = errors.New("access token invalid")
	// ErrTokenExpired is returned for structurally valid but expired
	// access tokens. It wraps ErrTokenInvalid, so errors.Is(err,
	// ErrTokenInvalid) holds for expired tokens too.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenInvalid)

	// ErrConfiguration is returned by Config.Validate and Builder.Build
	// for any invalid or incomplete configuration.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrBackendUnavailable wraps Redis and database outages. It is never
	// conflated with a credential failure.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine closed")

	// ErrPasswordReuse rejects changing a password to the current one.
	ErrPasswordReuse = errors.New("new password matches current password")
	// ErrAccountNotFound is surfaced only by administrative operations.
	// Login flows map it to ErrInvalidCredentials.
	ErrAccountNotFound = errors.New("account not found")
)

// AccountLockedError carries the absolute time at which the lockout ends.
// It matches ErrAccountLocked via errors.Is.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
