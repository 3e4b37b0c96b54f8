package authapi

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool  `env:"TURNSTILE_AUTH_TRUST_PROXY" env-default:"false"`
	MaxBodyBytes int64 `env:"TURNSTILE_AUTH_MAX_BODY_BYTES" env-default:"65536"`

	// Failed logins per client IP within a sliding window.
	LoginIPMax    int           `env:"TURNSTILE_AUTH_LOGIN_IP_MAX" env-default:"20"`
	LoginIPWindow time.Duration `env:"TURNSTILE_AUTH_LOGIN_IP_WINDOW" env-default:"5m"`

	// Progressive lockout per email, counted over failed logins.
	LockoutShortThreshold  int           `env:"TURNSTILE_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD" env-default:"5"`
	LockoutShortDuration   time.Duration `env:"TURNSTILE_AUTH_LOGIN_LOCKOUT_SHORT_DURATION" env-default:"5m"`
	LockoutLongThreshold   int           `env:"TURNSTILE_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD" env-default:"10"`
	LockoutLongDuration    time.Duration `env:"TURNSTILE_AUTH_LOGIN_LOCKOUT_LONG_DURATION" env-default:"30m"`
	LockoutSevereThreshold int           `env:"TURNSTILE_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD" env-default:"20"`
	LockoutSevereDuration  time.Duration `env:"TURNSTILE_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION" env-default:"2h"`
}

// DefaultConfig returns the same values LoadConfigFromEnv yields on an empty environment.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           64 << 10,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.clamped(), nil
}

func (c Config) clamped() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = def.LoginIPWindow
	}
	if c.LockoutShortDuration <= 0 {
		c.LockoutShortDuration = def.LockoutShortDuration
	}
	if c.LockoutLongDuration < c.LockoutShortDuration {
		c.LockoutLongDuration = c.LockoutShortDuration
	}
	if c.LockoutSevereDuration < c.LockoutLongDuration {
		c.LockoutSevereDuration = c.LockoutLongDuration
	}
	return c
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}
