package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event kinds. A single flat event type tagged by Kind replaces any
// per-event struct hierarchy; sinks that care switch on Kind.
const (
	KindLoginSuccess          = "login_success"
	KindLoginFailure          = "login_failure"
	KindLoginLocked           = "login_locked"
	KindAccountLocked         = "account_locked"
	KindAccountUnlocked       = "account_unlocked"
	KindTwoFactorRequired     = "two_factor_required"
	KindTwoFactorSuccess      = "two_factor_success"
	KindTwoFactorFailure      = "two_factor_failure"
	KindTwoFactorEnrolled     = "two_factor_enrolled"
	KindTwoFactorDisabled     = "two_factor_disabled"
	KindRecoveryCodeUsed      = "recovery_code_used"
	KindRecoveryCodesReplaced = "recovery_codes_replaced"
	KindRefreshSuccess        = "refresh_success"
	KindRefreshFailure        = "refresh_failure"
	KindRefreshReplayDetected = "refresh_replay_detected"
	KindChainRevoked          = "chain_revoked"
	KindLogout                = "logout"
	KindLogoutEverywhere      = "logout_everywhere"
	KindPasswordChanged       = "password_changed"
	KindAccountStatusChanged  = "account_status_changed"
)

// AuditEvent is the single audit record shape emitted by the engine.
type AuditEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	Kind       string            `json:"kind"`
	AccountID  string            `json:"account_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the dispatcher goroutine. Emit must not
// block for long and must never panic; a slow sink only costs dropped
// events, never a failed login.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a Go channel, mainly for tests and
// embedding hosts that run their own fan-out.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the given writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// MultiSink fans an event out to every child sink in order.
type MultiSink struct {
	sinks []AuditSink
}

func NewMultiSink(sinks ...AuditSink) *MultiSink {
	out := make([]AuditSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

func (m *MultiSink) Emit(ctx context.Context, event AuditEvent) {
	for _, s := range m.sinks {
		s.Emit(ctx, event)
	}
}
