// Package password implements credential hashing and verification.
//
// Two hashers are provided: [Bcrypt] (the default, matching the hashes most
// account systems already carry) and [Argon2] (argon2id with PHC-encoded
// parameters). Both satisfy [Hasher], so the engine can be pointed at either
// and previously stored hashes keep verifying.
//
// Verification is deliberately asymmetric about failure: a wrong password is
// a normal (false, nil) outcome, while a malformed stored hash is an error.
// Password policy (minimum length, reuse rules) is the engine's concern, not
// this package's.
//
// This package must not store or retrieve credentials, import any other
// package of this module, or log plaintext material.
package password
