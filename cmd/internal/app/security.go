package app

import (
	"errors"

	"turnstile/cmd/security/token"
)

// ValidateSecurityConfig enforces the refresh-token hashing policy at startup and
// returns the hasher the refresh store must use.
//
// Fail-fast: under RequireTokenHMAC a missing or short key stops the process
// instead of falling back to plain SHA-256.
func ValidateSecurityConfig(cfg Config) (*token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return nil, errors.New("security policy: TURNSTILE_REQUIRE_TOKEN_HMAC=true but TURNSTILE_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return nil, errors.New("security policy: TURNSTILE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return nil, err
		}
	}

	// Guards against a future hasher change that silently drops the key.
	if cfg.RequireTokenHMAC && !h.HMACEnabled() {
		return nil, errors.New("security policy: TURNSTILE_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return h, nil
}
