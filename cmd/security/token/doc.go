// Package token hashes refresh tokens for server-side storage.
//
// Each stored value carries its own random salt:
//
//	$sha256$<salt_b64>$<digest_b64>
//	$hmac-sha256$<salt_b64>$<digest_b64>
//
// HMAC mode is enabled by TURNSTILE_TOKEN_HMAC_KEY; the key acts as a pepper
// that never reaches the database. Verification is constant time and never
// returns an error: any malformed or foreign-mode value simply does not match.
//
// Refresh tokens are long random JWTs, so a fast salted digest is sufficient.
// Slow password hashes like bcrypt would also truncate them at 72 bytes.
package token
