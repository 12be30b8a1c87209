// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/whisper/chat-loadgen/internal/transport"
)

// Config configures the load generator.
type Config struct {
	Host        string        `env:"HOST"                 envDefault:"localhost"`
	Port        int           `env:"PORT"                 envDefault:"8080"`
	Path        string        `env:"SOCKETIO_PATH"        envDefault:"/socket.io/"`
	EngineIO    int           `env:"ENGINEIO_VERSION"     envDefault:"4"`
	DialTimeout time.Duration `env:"LOADGEN_DIAL_TIMEOUT" envDefault:"10s"`

	MinDelay    time.Duration `env:"LOADGEN_MIN_DELAY"    envDefault:"10ms"`
	MaxDelay    time.Duration `env:"LOADGEN_MAX_DELAY"    envDefault:"1000ms"`
	MinMessages int           `env:"LOADGEN_MIN_MESSAGES" envDefault:"1"`
	MaxMessages int           `env:"LOADGEN_MAX_MESSAGES" envDefault:"5"`
	RoomMin     int           `env:"LOADGEN_ROOM_MIN"     envDefault:"10000"`
	RoomMax     int           `env:"LOADGEN_ROOM_MAX"     envDefault:"1000000"` // exclusive
	RunTimeout  time.Duration `env:"LOADGEN_RUN_TIMEOUT"  envDefault:"0s"`      // 0 = wait for every session
	Seed        uint64        `env:"LOADGEN_SEED"         envDefault:"0"`       // 0 = random

	LogLevel    slog.Level `env:"LOG_LEVEL"      envDefault:"info"`
	MetricsAddr string     `env:"METRICS_ADDR"`
	NATSURL     string     `env:"NATS_URL"`
	RedisAddr   string     `env:"REDIS_ADDR"`
	NoFile      uint64     `env:"LOADGEN_NOFILE" envDefault:"0"` // 0 = hard limit
}

// ServerConfig configures the reference room server.
type ServerConfig struct {
	ListenAddr     string        `env:"LISTEN_ADDR"     envDefault:":8080"`
	Path           string        `env:"SOCKETIO_PATH"   envDefault:"/socket.io/"`
	PingInterval   time.Duration `env:"PING_INTERVAL"   envDefault:"25s"`
	PingTimeout    time.Duration `env:"PING_TIMEOUT"    envDefault:"20s"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"100000"`
	LogLevel       slog.Level    `env:"LOG_LEVEL"       envDefault:"info"`
	MetricsAddr    string        `env:"METRICS_ADDR"`
	NoFile         uint64        `env:"LOADGEN_NOFILE"  envDefault:"0"`
}

// Default returns the generator configuration with every default applied and
// nothing read from the environment.
func Default() Config {
	var cfg Config
	// Defaults are static tags; parsing an empty environment cannot fail.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// Load reads the generator configuration from the environment and validates
// it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("HOST must not be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.EngineIO != 3 && c.EngineIO != 4 {
		errs = append(errs, fmt.Errorf("ENGINEIO_VERSION must be 3 or 4, got %d", c.EngineIO))
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		errs = append(errs, fmt.Errorf("delay range [%s, %s] is invalid", c.MinDelay, c.MaxDelay))
	}
	if c.MinMessages < 1 || c.MaxMessages < c.MinMessages {
		errs = append(errs, fmt.Errorf("message range [%d, %d] is invalid", c.MinMessages, c.MaxMessages))
	}
	if c.RoomMin < 0 || c.RoomMax <= c.RoomMin {
		errs = append(errs, fmt.Errorf("room id range [%d, %d) is empty", c.RoomMin, c.RoomMax))
	}
	if c.RunTimeout < 0 {
		errs = append(errs, errors.New("LOADGEN_RUN_TIMEOUT must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Endpoint returns the Socket.IO WebSocket URL of the target service.
func (c Config) Endpoint() string {
	return transport.URL(c.Host, c.Port, c.Path, c.EngineIO)
}

// LoadServer reads the room server configuration from the environment.
func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.PingInterval <= 0 || cfg.PingTimeout <= 0 {
		return ServerConfig{}, errors.New("config: PING_INTERVAL and PING_TIMEOUT must be positive")
	}
	return cfg, nil
}

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
