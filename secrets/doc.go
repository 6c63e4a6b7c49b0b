// Package secrets holds the opaque primitives the rest of the module consumes:
// authenticated encryption of stored factor secrets and random bearer tokens
// that are persisted only as digests.
//
// # What this package must NOT do
//
//   - Import any other orgauth package.
//   - Log or return plaintext key material in errors.
package secrets
