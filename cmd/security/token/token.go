package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "TURNSTILE_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the smallest key accepted under an enforced HMAC policy.
	MinHMACKeyBytes = 32

	algSHA256 = "sha256"
	algHMAC   = "hmac-sha256"

	saltBytes = 16
)

// Hasher produces and checks salted refresh-token hashes.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. A non-empty key switches it to HMAC mode.
func NewHasher(key []byte) *Hasher {
	if len(key) == 0 {
		return &Hasher{}
	}
	return &Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from TURNSTILE_TOKEN_HMAC_KEY.
// A missing key yields a SHA-256 hasher unless require is set.
func HasherFromEnv(require bool) (*Hasher, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch {
	case err == nil:
		return NewHasher(key), nil
	case err == ErrHMACKeyMissing && !require:
		return NewHasher(nil), nil
	default:
		return nil, err
	}
}

// HMACEnabled reports whether h hashes with a key.
func (h *Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// Hash returns the encoded salted digest of token.
func (h *Hasher) Hash(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	alg := h.alg()
	b64 := base64.RawStdEncoding
	return "$" + alg + "$" + b64.EncodeToString(salt) + "$" + b64.EncodeToString(h.digest(salt, token)), nil
}

// Verify reports whether token hashes to encoded.
func (h *Hasher) Verify(encoded, token string) bool {
	if encoded == "" || token == "" {
		return false
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != "" || parts[1] != h.alg() {
		return false
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := b64.DecodeString(parts[3])
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(h.digest(salt, token), want) == 1
}

func (h *Hasher) alg() string {
	if h.HMACEnabled() {
		return algHMAC
	}
	return algSHA256
}

func (h *Hasher) digest(salt []byte, token string) []byte {
	var m hash.Hash
	if h.HMACEnabled() {
		m = hmac.New(sha256.New, h.key)
	} else {
		m = sha256.New()
	}
	_, _ = m.Write(salt)
	_, _ = m.Write([]byte(token))
	return m.Sum(nil)
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}
