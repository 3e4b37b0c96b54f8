package clientcli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the client's environment surface.
type Config struct {
	BaseURL string `env:"TURNSTILE_CLIENT_BASE_URL" env-default:"http://127.0.0.1:8080"`

	// StatePath is the SQLite file holding the two session strings.
	// Empty means ~/.turnstile/session.db.
	StatePath string `env:"TURNSTILE_CLIENT_STATE"`

	// RedisURL switches storage to a shared Redis area so several client
	// processes behave like tabs of one browser.
	RedisURL string `env:"TURNSTILE_CLIENT_REDIS_URL"`
	Area     string `env:"TURNSTILE_CLIENT_AREA" env-default:"default"`

	LogLevel string `env:"TURNSTILE_CLIENT_LOG_LEVEL" env-default:"warn"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("client config: %w", err)
	}
	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("client config: %w", err)
		}
		cfg.StatePath = filepath.Join(home, ".turnstile", "session.db")
	}
	return cfg, nil
}

// NewLogger logs to stderr so command output on stdout stays clean.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
