package authcore

import (
	"encoding/base64"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig is the flat environment mapping applied on top of the
// defaults. Signing keys arrive base64-encoded so binary Ed25519 material
// survives the environment round trip.
type envConfig struct {
	AccessTTL     time.Duration `env:"AUTHCORE_ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"AUTHCORE_REFRESH_TTL"`
	SigningMethod string        `env:"AUTHCORE_SIGNING_METHOD"`
	PrivateKeyB64 string        `env:"AUTHCORE_PRIVATE_KEY"`
	PublicKeyB64  string        `env:"AUTHCORE_PUBLIC_KEY"`
	Issuer        string        `env:"AUTHCORE_JWT_ISSUER"`
	Audience      string        `env:"AUTHCORE_JWT_AUDIENCE"`

	LockoutThreshold int           `env:"AUTHCORE_LOCKOUT_THRESHOLD"`
	LockoutDuration  time.Duration `env:"AUTHCORE_LOCKOUT_DURATION"`
	FailureWindow    time.Duration `env:"AUTHCORE_LOCKOUT_FAILURE_WINDOW"`

	TwoFactorIssuer   string `env:"AUTHCORE_TWO_FACTOR_ISSUER"`
	RecoveryCodeCount int    `env:"AUTHCORE_RECOVERY_CODE_COUNT"`

	AuditEnabled   bool `env:"AUTHCORE_AUDIT_ENABLED"`
	MetricsEnabled bool `env:"AUTHCORE_METRICS_ENABLED"`
	ProductionMode bool `env:"AUTHCORE_PRODUCTION_MODE"`
}

// ConfigFromEnv builds a Config from AUTHCORE_* environment variables on
// top of the defaults. The result is not validated; Builder.Build runs
// Validate.
func ConfigFromEnv() (Config, error) {
	cfg := defaultConfig()

	var e envConfig
	if err := env.Parse(&e); err != nil {
		return Config{}, configError("environment parse failed: %v", err)
	}

	if e.AccessTTL > 0 {
		cfg.JWT.AccessTTL = e.AccessTTL
	}
	if e.RefreshTTL > 0 {
		cfg.Refresh.TTL = e.RefreshTTL
	}
	if e.SigningMethod != "" {
		cfg.JWT.SigningMethod = e.SigningMethod
	}
	if e.PrivateKeyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(e.PrivateKeyB64)
		if err != nil {
			return Config{}, configError("AUTHCORE_PRIVATE_KEY is not valid base64: %v", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if e.PublicKeyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(e.PublicKeyB64)
		if err != nil {
			return Config{}, configError("AUTHCORE_PUBLIC_KEY is not valid base64: %v", err)
		}
		cfg.JWT.PublicKey = key
	}
	if e.Issuer != "" {
		cfg.JWT.Issuer = e.Issuer
	}
	if e.Audience != "" {
		cfg.JWT.Audience = e.Audience
	}
	if e.LockoutThreshold > 0 {
		cfg.Lockout.Threshold = e.LockoutThreshold
	}
	if e.LockoutDuration > 0 {
		cfg.Lockout.Duration = e.LockoutDuration
	}
	if e.FailureWindow > 0 {
		cfg.Lockout.FailureWindow = e.FailureWindow
	}
	if e.TwoFactorIssuer != "" {
		cfg.TwoFactor.Issuer = e.TwoFactorIssuer
	}
	if e.RecoveryCodeCount > 0 {
		cfg.TwoFactor.RecoveryCodeCount = e.RecoveryCodeCount
	}
	cfg.Audit.Enabled = e.AuditEnabled
	cfg.Metrics.Enabled = e.MetricsEnabled
	cfg.Security.ProductionMode = e.ProductionMode

	return cfg, nil
}
