package authcore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kyrelabs/authcore/internal"
	"github.com/kyrelabs/authcore/internal/challenge"
	"github.com/kyrelabs/authcore/jwt"
	"github.com/kyrelabs/authcore/ledger"
	"github.com/kyrelabs/authcore/lockout"
	"github.com/kyrelabs/authcore/password"
)

// Engine is the authentication orchestrator. It owns no persistent state
// of its own: accounts live behind the AccountStore, lockout counters and
// the refresh ledger live in Redis, and access tokens are self-contained.
// An Engine is safe for concurrent use; construct one via Builder.
type Engine struct {
	config     Config
	roles      *RoleManager
	redis      redis.UniversalClient
	accounts   AccountStore
	attempts   LoginAttemptStore
	tokens     *ledger.Ledger
	lockouts   *lockout.Policy
	challenges *challenge.Store
	audit      *auditDispatcher
	metrics    *Metrics
	hasher     *password.Hasher
	decoyHash  string
	jwt        *jwt.Manager
	totp       *totpManager
	closed     atomic.Bool
}

// Close drains the audit dispatcher. The Engine must not be used after
// Close; in-flight calls finish, later calls return ErrEngineClosed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// AuditDropped returns how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// ValidateAccess verifies an access token offline and returns the decoded
// identity. No backend is touched; revocation of refresh chains does not
// invalidate already-issued access tokens before their expiry.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessIdentity, error) {
	start := time.Now()

	claims, err := e.jwt.ParseAccess(token)
	if err != nil {
		e.metrics.Inc(MetricValidateFailure)
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	e.metrics.Inc(MetricValidateSuccess)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	identity := &AccessIdentity{
		AccountID:   claims.Subject,
		TokenID:     claims.ID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// emit queues an audit event with the request context fields filled in.
func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	event.Timestamp = time.Now()
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// checkAccountStatus maps a non-active account to the caller-facing
// error.
func checkAccountStatus(account *Account) error {
	switch account.Status {
	case AccountActive:
		return nil
	case AccountPendingVerification, AccountDisabled, AccountDeleted:
		return ErrAccountInactive
	default:
		return ErrAccountInactive
	}
}

// issueTokens signs an access token and opens a new refresh chain for the
// account.
func (e *Engine) issueTokens(ctx context.Context, account *Account) (*LoginResult, error) {
	permissions := e.roles.Permissions(account.Roles)

	accessToken, expiresAt, err := e.jwt.CreateAccess(account.ID, account.Roles, permissions)
	if err != nil {
		return nil, err
	}

	refreshToken, digest, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Store(ctx, digest, account.ID, clientIPFromContext(ctx)); err != nil {
		return nil, backendError(err)
	}

	e.metrics.Inc(MetricTokenIssued)

	return &LoginResult{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: expiresAt,
	}, nil
}

// newRefreshToken mints opaque token material and its storage digest.
func newRefreshToken() (string, [32]byte, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", [32]byte{}, err
	}
	return internal.EncodeRefreshToken(secret), internal.HashRefreshSecret(secret), nil
}

// backendError wraps a storage failure so callers can distinguish outages
// from credential failures.
func backendError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
