// Package ledger is the Redis-backed refresh token ledger. Every issued
// refresh token has one row keyed by its SHA-256 digest; rotation links
// each row to its successor, which is what makes replay of an old token
// detectable after the fact.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means no row exists for the presented digest. Unknown
	// and expired-then-evicted tokens are indistinguishable.
	ErrNotFound = errors.New("refresh token not found")
	// ErrReplay means the row was already rotated: its successor link is
	// set, so the presented token was used before.
	ErrReplay = errors.New("refresh token already rotated")
	// ErrRevoked means the row was explicitly revoked.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrExpired means the row outlived its absolute expiry but has not
	// been evicted yet.
	ErrExpired = errors.New("refresh token expired")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusReplay   int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusExpired  int64 = 3
	rotateStatusRotated  int64 = 4
)

// rotateScript is the single-use rotation CAS. It runs atomically, so of
// two concurrent rotations of the same token exactly one sees status
// rotated; the loser observes the successor link and reports replay.
//
// The rotated row keeps its original TTL. That keeps replay detectable
// for the remainder of the old token's lifetime.
//
// KEYS[1] = presented token row
// KEYS[2] = successor token row
// ARGV[1] = now (unix ms)
// ARGV[2] = successor digest (hex)
// ARGV[3] = successor expiry (unix ms)
// ARGV[4] = successor TTL (ms)
// ARGV[5] = presented digest (hex)
// ARGV[6] = account index prefix
// ARGV[7] = client IP
const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end

local account = redis.call("HGET", KEYS[1], "account")
if not account then
  return {0}
end

local successor = redis.call("HGET", KEYS[1], "successor")
if successor then
  return {1, account}
end

if redis.call("HGET", KEYS[1], "revoked_at") then
  return {2, account}
end

local expires = tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0")
local now = tonumber(ARGV[1])
if expires <= now then
  return {3, account}
end

redis.call("HSET", KEYS[1], "successor", ARGV[2], "rotated_at", ARGV[1])
redis.call("HSET", KEYS[2],
  "account", account,
  "created_at", ARGV[1],
  "expires_at", ARGV[3],
  "predecessor", ARGV[5],
  "ip", ARGV[7])
redis.call("PEXPIRE", KEYS[2], ARGV[4])
redis.call("SADD", ARGV[6] .. account, ARGV[2])

return {4, account}
`

var rotateLua = redis.NewScript(rotateScript)

// revokeScript marks a row revoked exactly once. Re-revoking is a no-op
// so logout stays idempotent.
//
// KEYS[1] = token row
// ARGV[1] = now (unix ms)
// ARGV[2] = reason
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked_at") then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "reason", ARGV[2])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Record is one ledger row. Digest values are lowercase hex SHA-256.
type Record struct {
	Digest      string
	AccountID   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RotatedAt   time.Time
	RevokedAt   time.Time
	Reason      string
	Successor   string
	Predecessor string
	IP          string
}

// Revoked reports whether the row was explicitly revoked.
func (r *Record) Revoked() bool { return !r.RevokedAt.IsZero() }

// Rotated reports whether the row has a successor.
func (r *Record) Rotated() bool { return r.Successor != "" }

// Ledger stores refresh token rows in Redis.
type Ledger struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *Ledger {
	if prefix == "" {
		prefix = "rt"
	}
	return &Ledger{redis: redisClient, prefix: prefix, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (l *Ledger) TTL() time.Duration { return l.ttl }

func (l *Ledger) tokenKey(digest [32]byte) string {
	return l.prefix + ":" + hex.EncodeToString(digest[:])
}

func (l *Ledger) tokenKeyHex(digestHex string) string {
	return l.prefix + ":" + digestHex
}

func (l *Ledger) accountPrefix() string {
	return l.prefix + "acct:"
}

func (l *Ledger) accountKey(accountID string) string {
	return l.accountPrefix() + accountID
}

// Store creates the root row of a new token chain and indexes it under
// the account.
func (l *Ledger) Store(ctx context.Context, digest [32]byte, accountID, ip string) error {
	now := time.Now()
	digestHex := hex.EncodeToString(digest[:])

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := l.tokenKeyHex(digestHex)
		pipe.HSet(ctx, key,
			"account", accountID,
			"created_at", now.UnixMilli(),
			"expires_at", now.Add(l.ttl).UnixMilli(),
			"ip", ip,
		)
		pipe.PExpire(ctx, key, l.ttl)
		pipe.SAdd(ctx, l.accountKey(accountID), digestHex)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate consumes the presented token and installs its successor in one
// atomic step. On success it returns the owning account ID. ErrReplay and
// ErrRevoked also return the account ID so the caller can revoke the
// whole chain; the other failures return it empty. Rotation is never
// retried internally: it is not idempotent, and a second attempt after an
// ambiguous failure would read as a replay.
func (l *Ledger) Rotate(ctx context.Context, presented [32]byte, successor [32]byte, ip string) (string, error) {
	now := time.Now()
	successorHex := hex.EncodeToString(successor[:])

	res, err := rotateLua.Run(ctx, l.redis,
		[]string{l.tokenKey(presented), l.tokenKey(successor)},
		now.UnixMilli(),
		successorHex,
		now.Add(l.ttl).UnixMilli(),
		l.ttl.Milliseconds(),
		hex.EncodeToString(presented[:]),
		l.accountPrefix(),
		ip,
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return "", fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return "", fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	var account string
	if len(parts) > 1 {
		switch v := parts[1].(type) {
		case string:
			account = v
		case []byte:
			account = string(v)
		}
	}

	switch code {
	case rotateStatusNotFound:
		return "", ErrNotFound
	case rotateStatusReplay:
		return account, ErrReplay
	case rotateStatusRevoked:
		return account, ErrRevoked
	case rotateStatusExpired:
		return account, ErrExpired
	case rotateStatusRotated:
		return account, nil
	default:
		return "", fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Revoke marks a single row revoked. Idempotent; revoking an unknown or
// already-revoked token is a no-op.
func (l *Ledger) Revoke(ctx context.Context, digest [32]byte, reason string) error {
	err := revokeLua.Run(ctx, l.redis,
		[]string{l.tokenKey(digest)},
		time.Now().UnixMilli(),
		reason,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAllForAccount revokes every live row indexed under the account.
//
// ATOMICITY NOTE: the sweep is not a single atomic step. It reads the
// account index (SMEMBERS), then revokes row by row in a pipeline. A row
// created between the read and the revoke phase is missed; the caller in
// the replay path accepts that because the racing Store belongs to the
// same compromised chain and the next replay sweeps again.
func (l *Ledger) RevokeAllForAccount(ctx context.Context, accountID, reason string) (int, error) {
	digests, err := l.redis.SMembers(ctx, l.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(digests) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	pipe := l.redis.Pipeline()
	cmds := make([]*redis.Cmd, len(digests))
	for i, digestHex := range digests {
		cmds[i] = revokeLua.Run(ctx, pipe, []string{l.tokenKeyHex(digestHex)}, now, reason)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, cmd := range cmds {
		n, cmdErr := cmd.Int64()
		if cmdErr != nil {
			continue
		}
		revoked += int(n)
	}
	return revoked, nil
}

// Get fetches one row. Used by introspection and tests; the hot path goes
// through Rotate.
func (l *Ledger) Get(ctx context.Context, digest [32]byte) (*Record, error) {
	fields, err := l.redis.HGetAll(ctx, l.tokenKey(digest)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		Digest:      hex.EncodeToString(digest[:]),
		AccountID:   fields["account"],
		Reason:      fields["reason"],
		Successor:   fields["successor"],
		Predecessor: fields["predecessor"],
		IP:          fields["ip"],
	}
	rec.CreatedAt = parseUnixMilli(fields["created_at"])
	rec.ExpiresAt = parseUnixMilli(fields["expires_at"])
	rec.RotatedAt = parseUnixMilli(fields["rotated_at"])
	rec.RevokedAt = parseUnixMilli(fields["revoked_at"])
	return rec, nil
}

// ActiveTokenDigests returns the hex digests indexed under the account.
// The index can include rotated and revoked rows until they expire.
func (l *Ledger) ActiveTokenDigests(ctx context.Context, accountID string) ([]string, error) {
	digests, err := l.redis.SMembers(ctx, l.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return digests, nil
}

func parseUnixMilli(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
