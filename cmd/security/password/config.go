package password

import (
	"fmt"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams

	// MaxLength bounds the plaintext length (in bytes) accepted by Hash and Verify.
	MaxLength int
}

// DefaultConfig returns the baseline used for interactive logins.
func DefaultConfig() Config {
	// Parallelism follows the host but stays in [1..4] so container limits are predictable.
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		MaxLength: 1024,
	}
}

// envOverrides holds the optional env surface. Unset variables leave the
// DefaultConfig value in place.
type envOverrides struct {
	MaxLength   int    `env:"TURNSTILE_PASSWORD_MAX_LEN"`
	MemoryKiB   uint32 `env:"TURNSTILE_ARGON2_MEMORY_KIB"`
	Iterations  uint32 `env:"TURNSTILE_ARGON2_ITERATIONS"`
	Parallelism uint32 `env:"TURNSTILE_ARGON2_PARALLELISM"`
	SaltLength  uint32 `env:"TURNSTILE_ARGON2_SALT_LEN"`
	KeyLength   uint32 `env:"TURNSTILE_ARGON2_KEY_LEN"`
}

// FromEnv returns DefaultConfig with any TURNSTILE_PASSWORD_MAX_LEN and
// TURNSTILE_ARGON2_* overrides applied, then validated.
func FromEnv() (Config, error) {
	def := DefaultConfig()
	o := envOverrides{
		MaxLength:   def.MaxLength,
		MemoryKiB:   def.Params.MemoryKiB,
		Iterations:  def.Params.Iterations,
		Parallelism: uint32(def.Params.Parallelism),
		SaltLength:  def.Params.SaltLength,
		KeyLength:   def.Params.KeyLength,
	}
	if err := cleanenv.ReadEnv(&o); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if o.Parallelism < 1 || o.Parallelism > 64 {
		return Config{}, fmt.Errorf("%w: TURNSTILE_ARGON2_PARALLELISM out of range [1..64]", ErrConfig)
	}

	cfg := Config{
		Params: Argon2idParams{
			MemoryKiB:   o.MemoryKiB,
			Iterations:  o.Iterations,
			Parallelism: uint8(o.Parallelism), // #nosec G115 -- range checked above.
			SaltLength:  o.SaltLength,
			KeyLength:   o.KeyLength,
		},
		MaxLength: o.MaxLength,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the bounds FromEnv accepts.
func (c Config) Validate() error {
	p := c.Params
	checks := []struct {
		name      string
		v, lo, hi uint64
	}{
		{"TURNSTILE_PASSWORD_MAX_LEN", uint64(max(c.MaxLength, 0)), 8, 4096},
		{"TURNSTILE_ARGON2_MEMORY_KIB", uint64(p.MemoryKiB), 8 * 1024, 1024 * 1024}, // 8 MiB .. 1 GiB
		{"TURNSTILE_ARGON2_ITERATIONS", uint64(p.Iterations), 1, 20},
		{"TURNSTILE_ARGON2_PARALLELISM", uint64(p.Parallelism), 1, 64},
		{"TURNSTILE_ARGON2_SALT_LEN", uint64(p.SaltLength), 8, 64},
		{"TURNSTILE_ARGON2_KEY_LEN", uint64(p.KeyLength), 16, 64},
	}
	for _, ch := range checks {
		if ch.v < ch.lo || ch.v > ch.hi {
			return fmt.Errorf("%w: %s out of range [%d..%d]", ErrConfig, ch.name, ch.lo, ch.hi)
		}
	}
	return nil
}
