package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	authapi "turnstile/cmd/internal/auth/api"
	"turnstile/cmd/internal/auth/session"
	"turnstile/cmd/internal/events"
	"turnstile/cmd/security/password"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Refresh slot backends.
const (
	RefreshBackendStore = "store"
	RefreshBackendRedis = "redis"
)

// EnvFileKey names an optional dotenv file loaded before the environment is read.
const EnvFileKey = "TURNSTILE_ENV_FILE"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"TURNSTILE_HTTP_ADDR" env-default:"0.0.0.0:8080"`
	LogLevel  string `env:"TURNSTILE_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"TURNSTILE_LOG_FORMAT" env-default:"json"`

	ReadHeaderTimeout time.Duration `env:"TURNSTILE_HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `env:"TURNSTILE_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout      time.Duration `env:"TURNSTILE_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `env:"TURNSTILE_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxHeaderBytes    int           `env:"TURNSTILE_HTTP_MAX_HEADER_BYTES" env-default:"1048576"`

	DatabaseURL string `env:"TURNSTILE_DATABASE_URL"`
	DBMaxConns  int32  `env:"TURNSTILE_DB_MAX_CONNS" env-default:"10"`
	DBMinConns  int32  `env:"TURNSTILE_DB_MIN_CONNS" env-default:"0"`
	DBMigrate   bool   `env:"TURNSTILE_DB_MIGRATE" env-default:"true"`

	// RedisURL is required when RefreshBackend is "redis".
	RedisURL       string `env:"TURNSTILE_REDIS_URL"`
	RefreshBackend string `env:"TURNSTILE_REFRESH_BACKEND" env-default:"store"`

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool `env:"TURNSTILE_READINESS_REQUIRE_DB" env-default:"false"`

	// If true, TURNSTILE_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-token hashing is HMAC-based.
	RequireTokenHMAC bool `env:"TURNSTILE_REQUIRE_TOKEN_HMAC" env-default:"false"`

	// Empty disables CORS handling entirely.
	CORSAllowedOrigins   []string `env:"TURNSTILE_CORS_ALLOWED_ORIGINS" env-separator:","`
	CORSAllowCredentials bool     `env:"TURNSTILE_CORS_ALLOW_CREDENTIALS" env-default:"false"`
	CORSMaxAgeSeconds    int      `env:"TURNSTILE_CORS_MAX_AGE_SECONDS" env-default:"600"`

	Session session.Config
	Auth    authapi.Config
	Events  events.Config

	// Password is read by password.FromEnv, not by cleanenv.
	Password password.Config
}

// LoadConfig loads the optional dotenv file, then Config from environment variables.
func LoadConfig() (Config, error) {
	if path := strings.TrimSpace(os.Getenv(EnvFileKey)); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("config: env file: %w", err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	pw, err := password.FromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Password = pw

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field settings. Sub-configs validate themselves.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.RefreshBackend)) {
	case "", RefreshBackendStore:
	case RefreshBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("config: TURNSTILE_REFRESH_BACKEND=redis requires TURNSTILE_REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown refresh backend %q", c.RefreshBackend)
	}
	return c.Session.Validate()
}
