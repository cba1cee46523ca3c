package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// seedTwoFactor installs an enabled enrollment directly in the store.
func seedTwoFactor(t *testing.T, store *mockStore, accountID string) {
	t.Helper()

	store.mu.Lock()
	defer store.mu.Unlock()
	store.twoFA[accountID] = &TwoFactorRecord{
		Secret:  []byte("12345678901234567890"),
		Enabled: true,
	}
	if account, ok := store.accounts[accountID]; ok {
		account.TwoFactorEnabled = true
	}
}

// wrongCode returns a code of the right shape that cannot match any step
// inside the skew window.
func wrongCode(t *testing.T, store *mockStore, accountID string, cfg TwoFactorConfig) string {
	t.Helper()

	store.mu.Lock()
	record, ok := store.twoFA[accountID]
	store.mu.Unlock()
	if !ok {
		t.Fatal("no two-factor record for account")
	}

	valid := make(map[string]bool)
	base := time.Now().Unix() / int64(cfg.Period)
	for step := base - int64(cfg.Skew) - 1; step <= base+int64(cfg.Skew)+1; step++ {
		code, err := hotpCode(record.Secret, step, cfg.Digits, cfg.Algorithm)
		if err != nil {
			t.Fatalf("compute code: %v", err)
		}
		valid[code] = true
	}

	for candidate := 0; ; candidate++ {
		code := strings.Repeat("0", cfg.Digits-len(itoa(candidate))) + itoa(candidate)
		if !valid[code] {
			return code
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func beginChallenge(t *testing.T, engine *Engine, identifier, passwd string) string {
	t.Helper()

	result, err := engine.Login(context.Background(), identifier, passwd)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !result.TwoFactorRequired || result.ChallengeRef == "" {
		t.Fatal("expected a two-factor challenge")
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Fatal("no tokens may be issued before the second factor")
	}
	return result.ChallengeRef
}

func TestTwoFactorEnrollmentFlow(t *testing.T) {
	cfg := testConfig(t)
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	ctx := context.Background()

	provision, err := engine.BeginTwoFactorEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("begin enrollment failed: %v", err)
	}
	if provision.Secret == "" || !strings.HasPrefix(provision.URI, "otpauth://totp/") {
		t.Fatalf("bad provision: %+v", provision)
	}

	// Login still works without a second factor until confirmation.
	if result, err := engine.Login(ctx, "alice", "correct-horse"); err != nil || result.TwoFactorRequired {
		t.Fatalf("pending enrollment must not gate login: %v %+v", err, result)
	}

	code := currentCode(t, store, "u1", time.Now(), cfg.TwoFactor)
	codes, err := engine.ConfirmTwoFactorEnrollment(ctx, "u1", code)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if len(codes) != cfg.TwoFactor.RecoveryCodeCount {
		t.Fatalf("expected %d recovery codes, got %d", cfg.TwoFactor.RecoveryCodeCount, len(codes))
	}

	account, _ := store.GetAccountByID(ctx, "u1")
	if !account.TwoFactorEnabled {
		t.Fatal("account not flagged as enrolled")
	}

	if _, err := engine.BeginTwoFactorEnrollment(ctx, "u1"); !errors.Is(err, ErrTwoFactorAlreadyEnrolled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnrolled, got %v", err)
	}
}

func TestTwoFactorLoginFlow(t *testing.T) {
	cfg := testConfig(t)
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	seedTwoFactor(t, store, "u1")
	ctx := context.Background()

	ref := beginChallenge(t, engine, "alice", "correct-horse")

	code := currentCode(t, store, "u1", time.Now(), cfg.TwoFactor)
	result, err := engine.VerifyTwoFactor(ctx, ref, code)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected tokens after verification")
	}
}

func TestTwoFactorChallengeSingleUse(t *testing.T) {
	cfg := testConfig(t)
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	seedTwoFactor(t, store, "u1")
	ctx := context.Background()

	ref := beginChallenge(t, engine, "alice", "correct-horse")
	code := currentCode(t, store, "u1", time.Now(), cfg.TwoFactor)
	if _, err := engine.VerifyTwoFactor(ctx, ref, code); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	// The challenge is consumed with the successful verification.
	if _, err := engine.VerifyTwoFactor(ctx, ref, code); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid, got %v", err)
	}
}

func TestTwoFactorCodeReplayRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lockout.Threshold = 10
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	seedTwoFactor(t, store, "u1")
	ctx := context.Background()

	ref := beginChallenge(t, engine, "alice", "correct-horse")
	code := currentCode(t, store, "u1", time.Now(), cfg.TwoFactor)
	if _, err := engine.VerifyTwoFactor(ctx, ref, code); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	// Same still-valid code on a fresh challenge is a replay.
	ref = beginChallenge(t, engine, "alice", "correct-horse")
	if _, err := engine.VerifyTwoFactor(ctx, ref, code); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("expected ErrTwoFactorInvalid for replayed code, got %v", err)
	}
}

func TestTwoFactorSkewAcceptsAdjacentStep(t *testing.T) {
	cfg := testConfig(t)
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	seedTwoFactor(t, store, "u1")
	ctx := context.Background()

	ref := beginChallenge(t, engine, "alice", "correct-horse")

	// A code from the previous step is inside the ±1 window.
	previous := time.Now().Add(-time.Duration(cfg.TwoFactor.Period) * time.Second)
	code := currentCode(t, store, "u1", previous, cfg.TwoFactor)
	if _, err := engine.VerifyTwoFactor(ctx, ref, code); err != nil {
		t.Fatalf("expected adjacent-step code accepted, got %v", err)
	}
}

func TestTwoFactorFailuresCountTowardLockout(t *testing.T) {
	cfg := testConfig(t)
	cfg.TwoFactor.ChallengeMaxAttempts = 10
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	seedTwoFactor(t, store, "u1")
	ctx := context.Background()

	ref := beginChallenge(t, engine, "alice", "correct-horse")
	bad := wrongCode(t, store, "u1", cfg.TwoFactor)
	for i := 0; i < cfg.Lockout.Threshold; i++ {
		if _, err := engine.VerifyTwoFactor(ctx, ref, bad); !errors.Is(err, ErrTwoFactorInvalid) {
			t.Fatalf("attempt %d: expected ErrTwoFactorInvalid, got %v", i+1, err)
		}
	}

	if _, err := engine.Login(ctx, "alice", "correct-horse"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lockout after two-factor failures, got %v", err)
	}
}

func TestTwoFactorChallengeAttemptBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lockout.Threshold = 10
	cfg.TwoFactor.ChallengeMaxAttempts = 2
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	seedTwoFactor(t, store, "u1")
	ctx := context.Background()

	ref := beginChallenge(t, engine, "alice", "correct-horse")
	bad := wrongCode(t, store, "u1", cfg.TwoFactor)

	if _, err := engine.VerifyTwoFactor(ctx, ref, bad); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("expected ErrTwoFactorInvalid, got %v", err)
	}
	if _, err := engine.VerifyTwoFactor(ctx, ref, bad); !errors.Is(err, ErrChallengeAttemptsExceeded) {
		t.Fatalf("expected ErrChallengeAttemptsExceeded, got %v", err)
	}

	// The exhausted challenge is gone; even a valid code cannot use it.
	code := currentCode(t, store, "u1", time.Now(), cfg.TwoFactor)
	if _, err := engine.VerifyTwoFactor(ctx, ref, code); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid, got %v", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	cfg := testConfig(t)
	engine, store, _ := newTestEngine(t, cfg)
	seedAccount(t, engine, store, "u1", "alice", "correct-horse")
	seedTwoFactor(t, store, "u1")
	ctx := context.Background()

	code := currentCode(t, store, "u1", time.Now(), cfg.TwoFactor)
	if err := engine.DisableTwoFactor(ctx, "u1", code); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	// Login goes straight to tokens again.
	result, err := engine.Login(ctx, "alice", "correct-horse")
	if err != nil || result.TwoFactorRequired {
		t.Fatalf("expected direct login after disable: %v %+v", err, result)
	}

	if err := engine.DisableTwoFactor(ctx, "u1", code); !errors.Is(err, ErrTwoFactorNotEnrolled) {
		t.Fatalf("expected ErrTwoFactorNotEnrolled, got %v", err)
	}
}
