// Package orgauth is the sign-in, session, and authorization core of a
// multi-tenant application: organizations, memberships with a fixed role
// hierarchy, opaque rotating session tokens, TOTP second factors, and an
// asynchronous security audit trail.
//
// An [Engine] is assembled once per process through [Builder] and is safe for
// concurrent use. Data access goes through the ports in package store;
// store/memory and store/postgres implement them.
//
// # Sign-in
//
// [Engine.SignInWithPassword] applies throttling and lockout, verifies the
// password, resolves the membership, and then either creates a session or
// returns a pending result with a single-use ticket for
// [Engine.CompleteMFAAuthentication].
//
// # Errors
//
// Every operation returns *[Error] values classified by [Kind]. Messages are
// safe for clients; internal causes are only reachable through Unwrap.
//
// # What this package must NOT do
//
//   - Grant anything the permission matrix does not grant.
//   - Tell a caller whether an account exists or is locked.
//   - Let an audit or metrics failure change the outcome of an operation.
package orgauth
