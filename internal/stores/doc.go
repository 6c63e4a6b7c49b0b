// Package stores keeps short-lived, single-use challenge records in Redis.
//
// The only record today is the pending-MFA challenge created when a password
// check succeeds and a second factor is still required. Each record is a
// versioned binary value with a TTL. Consume deletes it, so a challenge can
// complete at most one sign-in, and RecordFailure burns it after a bounded
// number of wrong codes.
//
// # What this package must NOT do
//
//   - Verify codes or make sign-in decisions.
//   - Import sibling packages other than through plain values.
package stores
