// Package middleware exposes HTTP adapters over authcore.Engine token
// validation.
//
//   - [Guard] reads the Authorization header, validates the bearer token
//     and injects the resulting [authcore.AccessIdentity] into the request
//     context.
//   - [RequirePermission] and [RequireRole] gate handlers behind Guard on
//     the expanded authorization payload.
//
// The package translates HTTP semantics into Engine calls and nothing
// else; all authentication decisions stay in the engine.
package middleware
