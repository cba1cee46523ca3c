package authcore

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentrySink forwards security-relevant failure events to Sentry. Success
// events are skipped; replay detections and chain revocations are always
// captured because they indicate token theft.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink initializes the Sentry SDK if a DSN is given and returns
// the sink. An empty DSN leaves the SDK untouched and the sink uses the
// current global hub, so hosts that already run Sentry can share it.
func NewSentrySink(dsn, environment string) (*SentrySink, error) {
	if dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      environment,
			AttachStacktrace: false,
		})
		if err != nil {
			return nil, err
		}
	}
	return &SentrySink{hub: sentry.CurrentHub()}, nil
}

func (s *SentrySink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.hub == nil {
		return
	}
	if event.Success && !alwaysCapture(event.Kind) {
		return
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("kind", event.Kind)
		if event.AccountID != "" {
			scope.SetTag("account_id", event.AccountID)
		}
		if event.IP != "" {
			scope.SetExtra("ip", event.IP)
		}
		if event.Error != "" {
			scope.SetExtra("error", event.Error)
		}
		for k, v := range event.Metadata {
			scope.SetExtra(k, v)
		}
		scope.SetLevel(sentryLevel(event.Kind))
		s.hub.CaptureMessage("authcore: " + event.Kind)
	})
}

// Flush blocks until buffered Sentry events are sent or the timeout hits.
// Call it on shutdown after Engine.Close.
func (s *SentrySink) Flush(timeout time.Duration) {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.Flush(timeout)
}

func alwaysCapture(kind string) bool {
	switch kind {
	case KindRefreshReplayDetected, KindChainRevoked, KindAccountLocked:
		return true
	}
	return false
}

func sentryLevel(kind string) sentry.Level {
	switch kind {
	case KindRefreshReplayDetected, KindChainRevoked:
		return sentry.LevelError
	case KindAccountLocked, KindLoginLocked:
		return sentry.LevelWarning
	}
	return sentry.LevelInfo
}
