// Package internal holds engine machinery that is private to orgauth.
//
// # Sub-packages
//
//   - rate: Redis fixed-window limiter, lockout, and the in-process per-IP limiter
//   - stores: single-use pending-MFA challenges in Redis
//   - security: configuration posture report
//
// # What this package must NOT do
//
//   - Export types that appear in the public orgauth API, except through aliases.
//   - Be imported by any package outside the orgauth module.
package internal
