// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification uses the parameters recorded in the hash, so raising the cost
// never invalidates stored hashes; [Hasher.NeedsRehash] reports which ones
// should be replaced after the next successful sign-in.
//
// # What this package must NOT do
//
//   - Store or look up passwords.
//   - Log plaintext passwords or hashes.
package password
