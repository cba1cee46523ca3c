package authcore

import (
	"context"
	"time"
)

// LoginAttempt is one row of the login history.
type LoginAttempt struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id,omitempty"`
	Identifier    string    `json:"identifier,omitempty"`
	Succeeded     bool      `json:"succeeded"`
	FailureReason string    `json:"failure_reason,omitempty"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	At            time.Time `json:"at"`
}

// AttemptFilter narrows and pages a login-history listing. Zero values
// mean "no constraint"; Limit defaults to a store-chosen cap.
type AttemptFilter struct {
	AccountID     string
	Since         time.Time
	Until         time.Time
	SucceededOnly bool
	FailedOnly    bool
	Limit         int
	Offset        int
}

// LoginAttemptStore persists login history rows.
type LoginAttemptStore interface {
	Append(ctx context.Context, attempt LoginAttempt) error
	List(ctx context.Context, filter AttemptFilter) ([]LoginAttempt, error)
}

// NewAttemptSink adapts a LoginAttemptStore into an audit sink that
// records login and two-factor outcomes. Other event kinds pass through
// untouched.
func NewAttemptSink(store LoginAttemptStore) AuditSink {
	return &attemptSink{store: store}
}

type attemptSink struct {
	store LoginAttemptStore
}

func (s *attemptSink) Emit(ctx context.Context, event AuditEvent) {
	switch event.Kind {
	case KindLoginSuccess, KindLoginFailure, KindLoginLocked,
		KindTwoFactorSuccess, KindTwoFactorFailure:
	default:
		return
	}

	_ = s.store.Append(ctx, LoginAttempt{
		AccountID:     event.AccountID,
		Identifier:    event.Identifier,
		Succeeded:     event.Success,
		FailureReason: event.Error,
		IP:            event.IP,
		UserAgent:     event.UserAgent,
		At:            event.Timestamp,
	})
}

// ListLoginAttempts returns login history from the configured attempt
// store. It fails with ErrConfiguration when no store was wired.
func (e *Engine) ListLoginAttempts(ctx context.Context, filter AttemptFilter) ([]LoginAttempt, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.attempts == nil {
		return nil, configError("no login attempt store configured")
	}

	attempts, err := e.attempts.List(ctx, filter)
	if err != nil {
		return nil, backendError(err)
	}
	return attempts, nil
}
