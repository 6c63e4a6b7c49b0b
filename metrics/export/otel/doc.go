// Package otel mirrors the orgauth Prometheus collectors as OpenTelemetry
// observable instruments.
//
// [NewExporter] registers an Int64ObservableCounter per orgauth counter family
// and a count/sum pair per histogram on a caller-supplied Meter. A single
// callback gathers the Prometheus registry on each collection cycle, so both
// views report the same numbers. Prometheus labels become attributes.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Observe families that are not orgauth's own.
package otel
