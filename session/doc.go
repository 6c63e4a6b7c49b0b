// Package session owns the session lifecycle: creation, validation,
// rotation, refresh, and termination of token-pair sessions.
//
// # Lifecycle
//
// A session is created active and moves through any number of rotations
// (new session token, same refresh token) and refreshes (new session token
// after the access window closed) until it is expired or terminated. Both
// end states are final. The refresh window is fixed at creation and never
// slides.
//
// # Storage
//
// [Manager] works against the [Repository] port. [RedisRepository] is the
// default backend; relational and in-memory backends live under store/.
// Only SHA-256 digests of tokens are persisted.
//
// # What this package must NOT do
//
//   - Import store, authz, or the root package (no upward imports).
//   - Make authorization decisions; the device fingerprint is recorded, not enforced.
//   - Persist plaintext tokens.
package session
