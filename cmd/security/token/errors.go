package token

import "errors"

var (
	// ErrHMACKeyMissing is tolerated by HasherFromEnv unless the key is required;
	// the hasher then falls back to plain SHA-256.
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")

	// ErrEmptyToken is returned when asked to hash an empty refresh token.
	ErrEmptyToken = errors.New("empty token")
)
