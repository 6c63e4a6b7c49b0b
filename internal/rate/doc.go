// Package rate provides the Redis-backed sign-in throttles and the account
// lockout counter, plus an in-process token bucket for per-IP smoothing.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - osl:  sign-in attempts per identifier
//   - osli: sign-in attempts per IP
//   - alo:  consecutive credential failures per identifier
//   - all:  active lockout flag per identifier
//
// # What this package must NOT do
//
//   - Decide what an identifier is; callers pass a normalized email or user ID.
//   - Be imported outside the orgauth module.
package rate
