// Package middleware adapts an orgauth engine to net/http.
//
// # Guards
//
//   - [Protect] resolves the session, enforces the route [Options], and
//     injects the principal.
//   - [RequireAll], [RequireAny], and [Authenticated] are shorthands.
//
// The token is read from the Authorization header ("Bearer <token>") or the
// orgauth_session cookie. When validation rotated or refreshed the session,
// the replacement token is returned in the X-Session-Token response header.
//
// # What this package must NOT do
//
//   - Decide anything the engine has not decided.
//   - Touch Redis or the data store.
//   - Put internal error causes in response bodies.
package middleware
