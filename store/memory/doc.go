// Package memory implements every store port in process, guarded by a mutex.
// It backs tests and single-node deployments that do not need durability.
//
// Writes call the configured [store.Invalidator] after the mutation is
// applied and after the lock is released, so an invalidator may read back
// through the store.
package memory
