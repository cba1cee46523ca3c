// Package lockout implements the failed-login lockout policy on Redis.
// The failure counter and the lock record are shared state: every replica
// sees the same counts and locks survive process restarts.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config mirrors the engine-level lockout settings.
type Config struct {
	// Threshold is the consecutive-failure count that trips a lock.
	Threshold int
	// Duration is the fixed lock length. The lock stores an absolute
	// expiry, so the remaining time is exact regardless of which replica
	// answers.
	Duration time.Duration
	// FailureWindow bounds how long a partial failure streak is kept
	// before it lapses.
	FailureWindow time.Duration
	// Prefix namespaces the Redis keys.
	Prefix string
}

// ErrUnavailable indicates the lockout backend is unreachable.
var ErrUnavailable = errors.New("lockout backend unavailable")

// Policy tracks per-account failure counters and locks.
type Policy struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Policy {
	if cfg.Prefix == "" {
		cfg.Prefix = "lk"
	}
	return &Policy{redis: redisClient, config: cfg}
}

func (p *Policy) counterKey(accountID string) string {
	return p.config.Prefix + ":fail:" + accountID
}

func (p *Policy) lockKey(accountID string) string {
	return p.config.Prefix + ":lock:" + accountID
}

// recordFailureLua increments the counter and, when the threshold is hit,
// installs the lock and clears the counter in the same atomic step. The
// lock value is the absolute expiry in unix milliseconds.
//
// KEYS[1] = counter key
// KEYS[2] = lock key
// ARGV[1] = failure window (ms)
// ARGV[2] = threshold
// ARGV[3] = lock expiry (unix ms)
// ARGV[4] = lock duration (ms)
//
// Returns {count, locked(0|1)}.
var recordFailureLua = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if count >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], ARGV[3], "PX", ARGV[4])
  redis.call("DEL", KEYS[1])
  return {count, 1}
end
return {count, 0}
`)

// RecordFailure registers one failed attempt. When the attempt trips the
// threshold, locked is true and until carries the lock expiry. The
// increment and the lock transition are a single atomic step, so two
// racing failures cannot both observe count == threshold-1.
func (p *Policy) RecordFailure(ctx context.Context, accountID string) (count int, locked bool, until time.Time, err error) {
	if accountID == "" {
		return 0, false, time.Time{}, nil
	}

	now := time.Now()
	expiry := now.Add(p.config.Duration)

	res, err := recordFailureLua.Run(ctx, p.redis,
		[]string{p.counterKey(accountID), p.lockKey(accountID)},
		p.config.FailureWindow.Milliseconds(),
		p.config.Threshold,
		expiry.UnixMilli(),
		p.config.Duration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, false, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, false, time.Time{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	if res[1] == 1 {
		return int(res[0]), true, expiry, nil
	}
	return int(res[0]), false, time.Time{}, nil
}

// Status reports whether the account is currently locked and, if so, the
// absolute expiry. A lock whose stored expiry has passed reads as
// unlocked; the Redis TTL is only the cleanup backstop.
func (p *Policy) Status(ctx context.Context, accountID string) (bool, time.Time, error) {
	if accountID == "" {
		return false, time.Time{}, nil
	}

	val, err := p.redis.Get(ctx, p.lockKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: corrupt lock value", ErrUnavailable)
	}

	until := time.UnixMilli(ms)
	if !time.Now().Before(until) {
		// Expired but not yet evicted. Clean up eagerly.
		_ = p.redis.Del(ctx, p.lockKey(accountID)).Err()
		return false, time.Time{}, nil
	}
	return true, until, nil
}

// RecordSuccess clears the failure streak after a completed
// authentication.
func (p *Policy) RecordSuccess(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := p.redis.Del(ctx, p.counterKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Unlock removes the lock and the counter. Administrative override.
func (p *Policy) Unlock(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := p.redis.Del(ctx, p.lockKey(accountID), p.counterKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FailureCount returns the current streak length. Absent counter reads as
// zero.
func (p *Policy) FailureCount(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, nil
	}
	count, err := p.redis.Get(ctx, p.counterKey(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}
