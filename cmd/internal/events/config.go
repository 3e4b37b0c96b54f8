package events

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	subprotocolV1 = "turnstile.events.v1"

	maxFrameBytes = 4 << 10

	defaultRateEvents = 30
	defaultRateWindow = 10 * time.Second

	minSendQueueSize = 8
	maxPingFailures  = 3
	closeGrace       = time.Second
)

// Config controls the events socket.
type Config struct {
	// Origin policy. websocket.Accept origin patterns are derived from AllowedOrigins.
	OriginRequired bool     `env:"TURNSTILE_EVENTS_ORIGIN_REQUIRED" env-default:"true"`
	AllowedOrigins []string `env:"TURNSTILE_EVENTS_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost,http://127.0.0.1"`

	WriteTimeout      time.Duration `env:"TURNSTILE_EVENTS_WRITE_TIMEOUT" env-default:"5s"`
	ReadIdleTimeout   time.Duration `env:"TURNSTILE_EVENTS_READ_IDLE_TIMEOUT" env-default:"2m"`
	SendQueueSize     int           `env:"TURNSTILE_EVENTS_SEND_QUEUE" env-default:"32"`
	HeartbeatInterval time.Duration `env:"TURNSTILE_EVENTS_HEARTBEAT_INTERVAL" env-default:"25s"`
	HeartbeatTimeout  time.Duration `env:"TURNSTILE_EVENTS_HEARTBEAT_TIMEOUT" env-default:"5s"`

	RateEvents int           `env:"TURNSTILE_EVENTS_RATE_EVENTS" env-default:"30"`
	RateWindow time.Duration `env:"TURNSTILE_EVENTS_RATE_WINDOW" env-default:"10s"`
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueueSize:     32,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		RateEvents:        defaultRateEvents,
		RateWindow:        defaultRateWindow,
	}
}

// LoadConfigFromEnv reads TURNSTILE_EVENTS_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.clamped(), nil
}

func (c Config) clamped() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return c
}
