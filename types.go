package authcore

import (
	"context"
	"time"
)

// AccountStatus represents the lifecycle state of an account.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountPendingVerification
	AccountDisabled
	AccountDeleted
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountPendingVerification:
		return "pending_verification"
	case AccountDisabled:
		return "disabled"
	case AccountDeleted:
		return "deleted"
	}
	return "unknown"
}

// Account is the engine's view of a stored account. Lockout counters are
// not part of it; they live in the lockout store so that replicas share
// them and restarts do not reset them.
type Account struct {
	ID               string
	Username         string
	Email            string
	PasswordHash     string
	Status           AccountStatus
	Roles            []string
	TwoFactorEnabled bool
}

// TwoFactorRecord holds an account's TOTP enrollment state. LastStep is
// the highest time-step counter ever accepted for this secret; codes at or
// below it are rejected even inside the skew window.
type TwoFactorRecord struct {
	Secret   []byte
	Enabled  bool
	LastStep int64
}

// RecoveryCodeRecord stores a single recovery code as its SHA-256 digest.
// Cleartext codes exist only in the response that generated them.
type RecoveryCodeRecord struct {
	Hash [32]byte
}

// AccountStore is the persistence boundary the host application implements.
// All methods must be safe for concurrent use. Lookup misses return
// ErrAccountNotFound; the engine maps that to ErrInvalidCredentials on
// authentication paths.
type AccountStore interface {
	GetAccountByIdentifier(ctx context.Context, identifier string) (*Account, error)
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
	UpdateAccountStatus(ctx context.Context, id string, status AccountStatus) error

	GetTwoFactor(ctx context.Context, id string) (*TwoFactorRecord, error)
	SaveTwoFactorSecret(ctx context.Context, id string, secret []byte) error
	EnableTwoFactor(ctx context.Context, id string) error
	DisableTwoFactor(ctx context.Context, id string) error
	UpdateTwoFactorLastStep(ctx context.Context, id string, step int64) error

	// ReplaceRecoveryCodes swaps the full batch atomically. Codes from the
	// previous batch must not be redeemable once this returns.
	ReplaceRecoveryCodes(ctx context.Context, id string, codes []RecoveryCodeRecord) error
	// ConsumeRecoveryCode marks the code used and reports whether this
	// call was the one that consumed it. At most one concurrent caller
	// may observe true per code.
	ConsumeRecoveryCode(ctx context.Context, id string, hash [32]byte) (bool, error)
}

// LoginResult is returned by Login and by the two-factor verification
// operations. When TwoFactorRequired is set the token fields are empty and
// ChallengeRef must be passed to VerifyTwoFactor to finish the login.
type LoginResult struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time

	TwoFactorRequired bool
	ChallengeRef      string
}

// TwoFactorProvision is returned by BeginTwoFactorEnrollment.
type TwoFactorProvision struct {
	Secret string // base32, no padding
	URI    string // otpauth:// provisioning URI
}

// AccessIdentity is the decoded identity of a validated access token.
type AccessIdentity struct {
	AccountID   string
	TokenID     string
	Roles       []string
	Permissions []string
	ExpiresAt   time.Time
}
