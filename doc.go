// Package authcore implements credential verification, two-factor login
// and token lifecycle for server applications.
//
// The [Engine] orchestrates the flows: argon2id password checks with a
// Redis-backed lockout policy, TOTP and recovery-code second factors,
// JWT access tokens, and single-use rotating refresh tokens with replay
// detection that revokes the whole account chain when a rotated token is
// presented again.
//
// All collaborators are handed in explicitly through [Builder]; account
// persistence sits behind the [AccountStore] interface (a pgx-backed
// implementation lives in providers/postgres), while lockout counters,
// pending two-factor challenges and the refresh ledger live in Redis so
// replicas share them. Engine methods are safe for concurrent use after
// [Builder.Build].
//
// Failures are sentinel error values: callers branch with errors.Is on
// [ErrInvalidCredentials], [ErrAccountLocked], [ErrRefreshReplayDetected]
// and the rest, not on error strings.
package authcore
