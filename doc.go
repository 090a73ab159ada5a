// Package accounts provides an authentication and session-management engine:
// password credential verification, signed access/refresh token pairs, and
// per-device session lifecycle (login, refresh, logout, impersonation,
// password reset, email verification).
//
// The package is transport-agnostic. REST or GraphQL bindings call [Engine]
// operations and map the returned sentinel errors ([ErrUserNotFound],
// [ErrTokenExpired], ...) onto their own status codes. Persistence is behind
// the [store.Store] contract; this module ships an in-memory reference
// implementation (store/memory) and a Redis adapter (store/redisstore).
//
// Engines are built once through [Builder] and are safe for concurrent use:
// the engine holds no mutable state between calls, all of it lives in the
// store.
//
// # What this package must NOT do
//
//   - Speak any wire protocol or render any response body.
//   - Reach past [store.Store] into a concrete database.
//   - Send email: reset and verification tokens are returned to the caller,
//     delivery is the surrounding application's job.
package accounts
