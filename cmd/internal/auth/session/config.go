package session

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// MinSecretBytes is the smallest accepted HMAC signing secret.
const MinSecretBytes = 32

// Config defines the runtime configuration of the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim of both tokens.
	Issuer string `env:"TURNSTILE_AUTH_ISSUER" env-default:"turnstile"`

	AccessTokenTTL  time.Duration `env:"TURNSTILE_AUTH_ACCESS_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `env:"TURNSTILE_AUTH_REFRESH_TTL" env-default:"168h"`

	// ClockSkew is the leeway applied to exp/iat during verification.
	ClockSkew time.Duration `env:"TURNSTILE_AUTH_CLOCK_SKEW" env-default:"30s"`

	// AccessSecret and RefreshSecret sign the two token kinds; they must differ.
	AccessSecret  string `env:"TURNSTILE_JWT_ACCESS_SECRET"`
	RefreshSecret string `env:"TURNSTILE_JWT_REFRESH_SECRET"`

	// RevokeOnReuse clears the user's refresh slot when a rotated-out refresh token
	// is presented again.
	RevokeOnReuse bool `env:"TURNSTILE_AUTH_REVOKE_ON_REUSE" env-default:"false"`
}

// DefaultConfig returns defaults without secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:          "turnstile",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - TURNSTILE_JWT_ACCESS_SECRET
//   - TURNSTILE_JWT_REFRESH_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - TURNSTILE_AUTH_ISSUER
//   - TURNSTILE_AUTH_ACCESS_TTL
//   - TURNSTILE_AUTH_REFRESH_TTL
//   - TURNSTILE_AUTH_CLOCK_SKEW
//   - TURNSTILE_AUTH_REVOKE_ON_REUSE
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the issuer relies on.
func (c Config) Validate() error {
	switch {
	case c.Issuer == "":
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0:
		return fmt.Errorf("%w: token ttl must be positive", ErrConfig)
	case c.AccessTokenTTL >= c.RefreshTokenTTL:
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrConfig)
	case c.ClockSkew < 0:
		return fmt.Errorf("%w: negative clock skew", ErrConfig)
	case len(c.AccessSecret) < MinSecretBytes:
		return fmt.Errorf("%w: access secret missing or shorter than %d bytes", ErrConfig, MinSecretBytes)
	case len(c.RefreshSecret) < MinSecretBytes:
		return fmt.Errorf("%w: refresh secret missing or shorter than %d bytes", ErrConfig, MinSecretBytes)
	case c.AccessSecret == c.RefreshSecret:
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	return nil
}
