package internaldefs

import (
	authcore "github.com/kyrelabs/authcore"
)

type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs maps every counter metric to its exporter-facing name.
// Both exporters iterate this slice so their output stays in lockstep.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Login attempts rejected while the account was locked."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked by the failure threshold."},
	{ID: authcore.MetricAccountUnlocked, Name: "authcore_account_unlocked_total", Help: "Administrative account unlocks."},
	{ID: authcore.MetricTwoFactorRequired, Name: "authcore_two_factor_required_total", Help: "Logins deferred pending a two-factor code."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Successful two-factor verifications."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed two-factor verifications."},
	{ID: authcore.MetricTwoFactorReplayAttempt, Name: "authcore_two_factor_replay_attempt_total", Help: "Codes rejected for reusing an accepted time step."},
	{ID: authcore.MetricRecoveryCodeUsed, Name: "authcore_recovery_code_used_total", Help: "Successful recovery-code redemptions."},
	{ID: authcore.MetricRecoveryCodeFailed, Name: "authcore_recovery_code_failed_total", Help: "Failed recovery-code redemptions."},
	{ID: authcore.MetricRecoveryCodesReplaced, Name: "authcore_recovery_codes_replaced_total", Help: "Recovery-code batch replacements."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authcore.MetricReplayDetected, Name: "authcore_replay_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: authcore.MetricChainRevoked, Name: "authcore_chain_revoked_total", Help: "Whole-account refresh chain revocations."},
	{ID: authcore.MetricTokenIssued, Name: "authcore_token_issued_total", Help: "Access/refresh pairs issued."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-token logout operations."},
	{ID: authcore.MetricLogoutEverywhere, Name: "authcore_logout_everywhere_total", Help: "Logout-everywhere operations."},
	{ID: authcore.MetricPasswordChanged, Name: "authcore_password_changed_total", Help: "Password changes."},
	{ID: authcore.MetricValidateSuccess, Name: "authcore_validate_success_total", Help: "Successful access-token validations."},
	{ID: authcore.MetricValidateFailure, Name: "authcore_validate_failure_total", Help: "Failed access-token validations."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access-token validation latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds; they mirror the
// millisecond buckets the core records into.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
