package authcore

import (
	"fmt"
	"strings"
	"time"
)

// Config holds every tunable of the engine. Instances are configured
// before Build and treated as immutable afterwards; Build keeps a deep
// copy so later mutation of the caller's struct has no effect.
type Config struct {
	JWT       JWTConfig
	Refresh   RefreshConfig
	Lockout   LockoutConfig
	Password  PasswordConfig
	TwoFactor TwoFactorConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

// JWTConfig configures access token signing and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// RefreshConfig configures the opaque refresh token ledger.
type RefreshConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

// LockoutConfig configures the failed-login lockout policy. The counter
// and the lock live in Redis, so they are shared across replicas and
// survive restarts.
type LockoutConfig struct {
	// Threshold is the number of consecutive failures that trips a lock.
	Threshold int
	// Duration is the fixed lockout length. The lock carries an absolute
	// expiry; it does not escalate on repeated lockouts.
	Duration time.Duration
	// FailureWindow bounds how long a partial failure streak is
	// remembered before the counter lapses.
	FailureWindow time.Duration
	RedisPrefix   string
}

// PasswordConfig configures the argon2id hasher.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// TwoFactorConfig configures TOTP verification, the login challenge step
// and recovery codes.
type TwoFactorConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // SHA1 (default), SHA256, SHA512
	Skew      int

	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	ChallengeRedisPrefix string

	RecoveryCodeCount  int
	RecoveryCodeLength int
}

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig holds cross-cutting hardening switches.
type SecurityConfig struct {
	// ProductionMode tightens validation: short access TTLs, full-size
	// signing keys and argon2 parameters at or above the defaults.
	ProductionMode bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     60 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
			MaxFutureIAT:  2 * time.Minute,
		},
		Refresh: RefreshConfig{
			TTL:         7 * 24 * time.Hour,
			RedisPrefix: "rt",
		},
		Lockout: LockoutConfig{
			Threshold:     5,
			Duration:      30 * time.Minute,
			FailureWindow: 15 * time.Minute,
			RedisPrefix:   "lk",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Digits:               6,
			Period:               30,
			Algorithm:            "SHA1",
			Skew:                 1,
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 5,
			ChallengeRedisPrefix: "tfc",
			RecoveryCodeCount:    10,
			RecoveryCodeLength:   10,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks the whole Config and returns an ErrConfiguration-wrapped
// error for the first violation found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return configError("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return configError("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return configError("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return configError("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return configError("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return configError("JWT Leeway must be >= 0")
	}
	if c.JWT.MaxFutureIAT < 0 {
		return configError("JWT MaxFutureIAT must be >= 0")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return configError("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return configError("Refresh TTL must exceed JWT AccessTTL")
	}
	if c.Refresh.RedisPrefix == "" {
		return configError("Refresh RedisPrefix must not be empty")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return configError("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return configError("Lockout Duration must be > 0")
	}
	if c.Lockout.FailureWindow <= 0 {
		return configError("Lockout FailureWindow must be > 0")
	}
	if c.Lockout.RedisPrefix == "" {
		return configError("Lockout RedisPrefix must not be empty")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return configError("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return configError("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return configError("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return configError("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return configError("Password KeyLength must be >= 16")
	}

	// Two-factor
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return configError("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period < 15 {
		return configError("TwoFactor Period must be >= 15 seconds")
	}
	if c.TwoFactor.Skew < 0 {
		return configError("TwoFactor Skew must be >= 0")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// empty is treated as SHA1
	default:
		return configError("TwoFactor Algorithm must be SHA1, SHA256, or SHA512")
	}
	if c.TwoFactor.ChallengeTTL <= 0 {
		return configError("TwoFactor ChallengeTTL must be > 0")
	}
	if c.TwoFactor.ChallengeMaxAttempts <= 0 {
		return configError("TwoFactor ChallengeMaxAttempts must be > 0")
	}
	if c.TwoFactor.ChallengeRedisPrefix == "" {
		return configError("TwoFactor ChallengeRedisPrefix must not be empty")
	}
	if c.TwoFactor.RecoveryCodeCount < 8 {
		return configError("TwoFactor RecoveryCodeCount must be >= 8")
	}
	if c.TwoFactor.RecoveryCodeLength < 8 {
		return configError("TwoFactor RecoveryCodeLength must be >= 8")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configError("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 60*time.Minute {
			return configError("ProductionMode requires JWT AccessTTL <= 60m")
		}
		if c.Refresh.TTL > 30*24*time.Hour {
			return configError("ProductionMode requires Refresh TTL <= 30d")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return configError("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.Password.Memory < 64*1024 {
			return configError("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return configError("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return configError("ProductionMode requires Password KeyLength >= 32")
		}
		if c.TwoFactor.Period > 60 {
			return configError("ProductionMode requires TwoFactor Period <= 60")
		}
		if c.TwoFactor.Skew > 2 {
			return configError("ProductionMode requires TwoFactor Skew <= 2")
		}
		if c.Lockout.Threshold > 10 {
			return configError("ProductionMode requires Lockout Threshold <= 10")
		}
	}

	return nil
}
