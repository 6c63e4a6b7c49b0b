// Package cache provides the in-process permission cache.
//
// Three slices are kept per identity, each with its own key and expiry:
// membership (membership:<user>:<org>), resolved permissions
// (permissions:<user>:<org>), and organization settings (settings:<org>).
// An entry is never served at or after its expiry; expired entries are
// dropped on read and by [PermissionCache.Sweep].
//
// Invalidation is by substring: every key containing the identifier is
// evicted. [ChangeHandler] drives invalidation from committed store writes and
// records membership transitions to the audit log.
package cache
