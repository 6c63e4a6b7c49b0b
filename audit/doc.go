// Package audit implements the security and audit event pipeline.
//
// # Components
//
//   - [Event]: append-only record with organization, user, type, severity, and request attributes.
//   - [Classify] and [SeverityOf]: rule-based severity; callers never choose it.
//   - [Dispatcher]: bounded async queue with per-write bounded retry.
//   - [Logger]: typed helpers that build events and hand them to the dispatcher.
//
// # Routing
//
// Every event goes to the audit-log sink. Events at medium severity or above
// are also written to the security-events sink. A write that fails after the
// configured attempts is logged to the fallback zerolog logger and dropped.
//
// # What this package must NOT do
//
//   - Block or fail the caller's operation.
//   - Import orgauth, cache, authz, or session.
package audit
