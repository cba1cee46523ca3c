package authcore

import "time"

// SecurityReport summarizes the hardening posture of a built engine, for
// startup logs and operational review. It exposes no key material.
type SecurityReport struct {
	ProductionMode   bool
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Argon2           PasswordConfigReport

	LockoutThreshold int
	LockoutDuration  time.Duration

	TwoFactorDigits       int
	TwoFactorSkew         int
	RecoveryCodeCount     int
	ChallengeMaxAttempts  int
	PasswordUpgradeActive bool

	AuditEnabled   bool
	MetricsEnabled bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.Refresh.TTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		LockoutThreshold:      e.config.Lockout.Threshold,
		LockoutDuration:       e.config.Lockout.Duration,
		TwoFactorDigits:       e.config.TwoFactor.Digits,
		TwoFactorSkew:         e.config.TwoFactor.Skew,
		RecoveryCodeCount:     e.config.TwoFactor.RecoveryCodeCount,
		ChallengeMaxAttempts:  e.config.TwoFactor.ChallengeMaxAttempts,
		PasswordUpgradeActive: e.config.Password.UpgradeOnLogin,
		AuditEnabled:          e.audit != nil,
		MetricsEnabled:        e.config.Metrics.Enabled,
	}
}
