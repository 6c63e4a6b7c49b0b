// Package postgres implements the store ports, the session repository, and
// the audit sinks on PostgreSQL through database/sql and the pgx driver.
//
// Every write that can change an authorization decision calls the configured
// [store.Invalidator] after the transaction commits and before the method
// returns. Driver failures are reported as [store.ErrUnavailable] (or
// [session.ErrUnavailable] from the session repository) so callers fail
// closed.
//
// The schema lives in migrations/ and is applied with [Migrate].
package postgres
