package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var (
	testAccessSecret  = strings.Repeat("a", 32)
	testRefreshSecret = strings.Repeat("r", 32)
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("TURNSTILE_JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("TURNSTILE_JWT_REFRESH_SECRET", testRefreshSecret)
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("TURNSTILE_JWT_ACCESS_SECRET", "")
	t.Setenv("TURNSTILE_JWT_REFRESH_SECRET", testRefreshSecret)

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_SameSecrets(t *testing.T) {
	t.Setenv("TURNSTILE_JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("TURNSTILE_JWT_REFRESH_SECRET", testAccessSecret)

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for identical secrets, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	setSecrets(t)
	t.Setenv("TURNSTILE_AUTH_ACCESS_TTL", "-5m")

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_Unparseable(t *testing.T) {
	setSecrets(t)
	t.Setenv("TURNSTILE_AUTH_REFRESH_TTL", "forever")

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unparseable duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_TTLOrder(t *testing.T) {
	setSecrets(t)
	t.Setenv("TURNSTILE_AUTH_ACCESS_TTL", "24h")
	t.Setenv("TURNSTILE_AUTH_REFRESH_TTL", "1h")

	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	setSecrets(t)
	t.Setenv("TURNSTILE_AUTH_ISSUER", "turnstile-test")
	t.Setenv("TURNSTILE_AUTH_ACCESS_TTL", "10m")
	t.Setenv("TURNSTILE_AUTH_REFRESH_TTL", "48h")
	t.Setenv("TURNSTILE_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("TURNSTILE_AUTH_REVOKE_ON_REUSE", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "turnstile-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if !cfg.RevokeOnReuse {
		t.Fatalf("expected revoke on reuse")
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	setSecrets(t)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := DefaultConfig()
	if cfg.Issuer != def.Issuer || cfg.AccessTokenTTL != def.AccessTokenTTL || cfg.RefreshTokenTTL != def.RefreshTokenTTL {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
	if cfg.RevokeOnReuse {
		t.Fatalf("revoke on reuse must default to false")
	}
}
