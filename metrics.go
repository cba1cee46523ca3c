package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID indexes the fixed counter set. IDs are stable within a build
// but not across releases; exporters should go through MetricName.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricAccountLocked
	MetricAccountUnlocked
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorReplayAttempt
	MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed
	MetricRecoveryCodesReplaced
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricReplayDetected
	MetricChainRevoked
	MetricTokenIssued
	MetricLogout
	MetricLogoutEverywhere
	MetricPasswordChanged
	MetricValidateSuccess
	MetricValidateFailure
	MetricValidateLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricLoginLocked:            "login_locked",
	MetricAccountLocked:          "account_locked",
	MetricAccountUnlocked:        "account_unlocked",
	MetricTwoFactorRequired:      "two_factor_required",
	MetricTwoFactorSuccess:       "two_factor_success",
	MetricTwoFactorFailure:       "two_factor_failure",
	MetricTwoFactorReplayAttempt: "two_factor_replay_attempt",
	MetricRecoveryCodeUsed:       "recovery_code_used",
	MetricRecoveryCodeFailed:     "recovery_code_failed",
	MetricRecoveryCodesReplaced:  "recovery_codes_replaced",
	MetricRefreshSuccess:         "refresh_success",
	MetricRefreshFailure:         "refresh_failure",
	MetricReplayDetected:         "replay_detected",
	MetricChainRevoked:           "chain_revoked",
	MetricTokenIssued:            "token_issued",
	MetricLogout:                 "logout",
	MetricLogoutEverywhere:       "logout_everywhere",
	MetricPasswordChanged:        "password_changed",
	MetricValidateSuccess:        "validate_success",
	MetricValidateFailure:        "validate_failure",
	MetricValidateLatency:        "validate_latency",
}

// MetricName returns the stable exporter-facing name for an ID.
func MetricName(id MetricID) string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricCount returns the number of defined metric IDs.
func MetricCount() int { return int(metricIDCount) }

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so hot counters
// on different cores do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the in-process counter set. All operations are lock-free.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample. Only MetricValidateLatency carries a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricValidateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
