package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/kyrelabs/authcore/internal"
	"github.com/kyrelabs/authcore/ledger"
)

// Refresh exchanges a live refresh token for a new access/refresh pair.
// The presented token is consumed in the same atomic step that records
// its successor, so each refresh token rotates exactly once.
//
// Presenting an already-rotated token is treated as theft: the whole
// refresh chain for the account is revoked and the call returns
// ErrRefreshReplayDetected. Malformed, unknown, revoked and expired
// tokens all return ErrRefreshInvalid without distinguishing which.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	presented, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.emit(ctx, AuditEvent{Kind: KindRefreshFailure, Error: "malformed token"})
		return nil, ErrRefreshInvalid
	}

	successor, successorDigest, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	accountID, err := e.tokens.Rotate(ctx, internal.HashRefreshSecret(presented), successorDigest, clientIPFromContext(ctx))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrReplay):
			return nil, e.handleRefreshReplay(ctx, accountID)
		case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrRevoked), errors.Is(err, ledger.ErrExpired):
			e.metrics.Inc(MetricRefreshFailure)
			e.emit(ctx, AuditEvent{
				Kind:      KindRefreshFailure,
				AccountID: accountID,
				Error:     err.Error(),
			})
			return nil, ErrRefreshInvalid
		default:
			return nil, backendError(err)
		}
	}

	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		// The chain rotated but the account is gone; close the new leg.
		_ = e.tokens.Revoke(ctx, successorDigest, "account missing")
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, backendError(err)
	}
	if err := checkAccountStatus(account); err != nil {
		_ = e.tokens.Revoke(ctx, successorDigest, "account inactive")
		return nil, err
	}

	permissions := e.roles.Permissions(account.Roles)
	accessToken, expiresAt, err := e.jwt.CreateAccess(account.ID, account.Roles, permissions)
	if err != nil {
		_ = e.tokens.Revoke(ctx, successorDigest, "signing failed")
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.metrics.Inc(MetricTokenIssued)
	e.emit(ctx, AuditEvent{
		Kind:      KindRefreshSuccess,
		AccountID: account.ID,
		Success:   true,
	})

	return &LoginResult{
		AccessToken:     accessToken,
		RefreshToken:    successor,
		AccessExpiresAt: expiresAt,
	}, nil
}

// handleRefreshReplay revokes every live token on the account's chain.
func (e *Engine) handleRefreshReplay(ctx context.Context, accountID string) error {
	e.metrics.Inc(MetricReplayDetected)
	e.emit(ctx, AuditEvent{
		Kind:      KindRefreshReplayDetected,
		AccountID: accountID,
		Error:     "rotated token presented again",
	})

	revoked, err := e.tokens.RevokeAllForAccount(ctx, accountID, "replay detected")
	if err != nil {
		return backendError(err)
	}

	e.metrics.Inc(MetricChainRevoked)
	e.emit(ctx, AuditEvent{
		Kind:      KindChainRevoked,
		AccountID: accountID,
		Metadata:  map[string]string{"revoked": strconv.Itoa(revoked)},
	})
	return ErrRefreshReplayDetected
}

// Logout revokes the presented refresh token. It is idempotent: revoking
// an already-revoked or unknown token succeeds quietly.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	presented, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return ErrRefreshInvalid
	}

	if err := e.tokens.Revoke(ctx, internal.HashRefreshSecret(presented), "logout"); err != nil {
		return backendError(err)
	}

	e.metrics.Inc(MetricLogout)
	e.emit(ctx, AuditEvent{Kind: KindLogout, Success: true})
	return nil
}

// LogoutEverywhere revokes every live refresh token belonging to the
// account. Outstanding access tokens stay valid until they expire.
func (e *Engine) LogoutEverywhere(ctx context.Context, accountID string) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	revoked, err := e.tokens.RevokeAllForAccount(ctx, accountID, "logout everywhere")
	if err != nil {
		return 0, backendError(err)
	}

	e.metrics.Inc(MetricLogoutEverywhere)
	e.emit(ctx, AuditEvent{
		Kind:      KindLogoutEverywhere,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"revoked": strconv.Itoa(revoked)},
	})
	return revoked, nil
}
