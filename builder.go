package authcore

import (
	"github.com/redis/go-redis/v9"

	"github.com/kyrelabs/authcore/internal"
	"github.com/kyrelabs/authcore/internal/challenge"
	"github.com/kyrelabs/authcore/jwt"
	"github.com/kyrelabs/authcore/ledger"
	"github.com/kyrelabs/authcore/lockout"
	"github.com/kyrelabs/authcore/password"
)

// Builder wires an Engine from explicit dependencies. Every collaborator
// is handed in before Build; nothing is looked up at runtime. A Builder
// is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	roles    map[string][]string
	accounts AccountStore
	attempts LoginAttemptStore

	auditSink AuditSink

	built bool
}

// New starts a Builder on the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRoles registers the role to permission-list mapping. The mapping is
// frozen by Build.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithLoginAttemptStore enables login-history listing and records login
// and two-factor outcomes alongside the configured audit sink. Recording
// is active as soon as the store is wired, independent of Audit.Enabled.
func (b *Builder) WithLoginAttemptStore(store LoginAttemptStore) *Builder {
	b.attempts = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and dependencies, then assembles the
// Engine. All failures are ErrConfiguration-wrapped; a Build error means
// nothing was started and no goroutine is running.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, configError("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, configError("redis client required")
	}
	if b.accounts == nil {
		return nil, configError("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	roleManager := NewRoleManager()
	for roleName, perms := range b.roles {
		if err := roleManager.RegisterRole(roleName, perms); err != nil {
			return nil, configError("role %q: %v", roleName, err)
		}
	}
	roleManager.Freeze()

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, configError("password hasher: %v", err)
	}

	// The decoy digest keeps unknown-identifier logins on the same
	// argon2 path as real ones; its input is discarded and never
	// verifies.
	decoySeed, err := internal.NewChallengeRef()
	if err != nil {
		return nil, configError("decoy hash: %v", err)
	}
	decoyHash, err := hasher.Hash(decoySeed)
	if err != nil {
		return nil, configError("decoy hash: %v", err)
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
	})
	if err != nil {
		return nil, configError("jwt manager: %v", err)
	}

	engine := &Engine{
		config:    cfg,
		roles:     roleManager,
		redis:     b.redis,
		hasher:    hasher,
		decoyHash: decoyHash,
		jwt:       jm,
		totp:      newTOTPManager(cfg.TwoFactor),
		metrics:   NewMetrics(cfg.Metrics),
	}

	engine.accounts = b.accounts
	engine.tokens = ledger.New(b.redis, cfg.Refresh.RedisPrefix, cfg.Refresh.TTL)
	engine.lockouts = lockout.New(b.redis, lockout.Config{
		Threshold:     cfg.Lockout.Threshold,
		Duration:      cfg.Lockout.Duration,
		FailureWindow: cfg.Lockout.FailureWindow,
		Prefix:        cfg.Lockout.RedisPrefix,
	})
	engine.challenges = challenge.NewStore(b.redis, cfg.TwoFactor.ChallengeRedisPrefix)

	// Dispatcher delivery turns on with the first wired sink: attempt
	// rows are part of the login protocol and must land even when the
	// general audit switch is off.
	sinks := make([]AuditSink, 0, 2)
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	if b.attempts != nil {
		engine.attempts = b.attempts
		sinks = append(sinks, NewAttemptSink(b.attempts))
	}
	engine.audit = newAuditDispatcher(cfg.Audit, sinks...)

	b.built = true

	return engine, nil
}
