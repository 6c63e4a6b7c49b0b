// Package metrics exports orgauth activity as Prometheus collectors.
//
// A [Recorder] satisfies the observer interfaces of cache, authz, session,
// and the root engine, so one value can be handed to every component. A nil
// *Recorder is a valid no-op observer.
//
// # What this package must NOT do
//
//   - Register on the global Prometheus registry. Callers pass a Registerer.
//   - Use user or organization identifiers as label values.
package metrics
