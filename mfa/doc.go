// Package mfa verifies second factors. TOTP (RFC 6238) is the only factor
// type. Seeds are kept sealed by a [secrets.Box] and opened only for the
// duration of a verification.
//
// Accepted time steps are recorded per factor; a code whose step is not newer
// than the last accepted one is rejected as a replay.
package mfa
