// Package security derives a configuration posture report: which defenses
// are active and which settings fall below common baselines.
//
// # What this package must NOT do
//
//   - Read configuration itself; callers pass a flattened [ReportInput].
//   - Change behavior. The report is informational.
package security
