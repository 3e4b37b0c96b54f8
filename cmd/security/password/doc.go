// Package password is the credential verifier used by turnstile's session service.
//
// Passwords are hashed with Argon2id and stored as a PHC-like string:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Every hash carries its own random salt and cost parameters, so hashes created
// under older settings keep verifying after the defaults change.
//
// Hash strings are untrusted input during Verify: malformed strings and strings
// whose cost exceeds twice the configured parameters are rejected with
// ErrInvalidHash instead of being computed.
//
// Only a maximum input length is enforced. It bounds hashing cost; password
// quality rules are not this package's concern.
package password
