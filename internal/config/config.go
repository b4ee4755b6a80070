package config

import (
	"errors"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the chat server.
type Config struct {
	// Server
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"

	// Upstream chat API
	DifyAPIKey     string        `env:"DIFY_API_KEY"`
	DifyEndpoint   string        `env:"DIFY_API_ENDPOINT" envDefault:"https://api.dify.ai/v1/chat-messages"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"` // per attempt
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase    time.Duration `env:"BACKOFF_BASE" envDefault:"1s"` // delay before attempt n is base * 2^n

	// User-facing messages
	Language     string `env:"LANGUAGE" envDefault:"ja"`
	MessagesFile string `env:"MESSAGES_FILE"`

	// Sessions
	SessionProvider string        `env:"SESSION_PROVIDER" envDefault:"memory"` // "memory" or "redis"
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	MaxQueryLength  int           `env:"MAX_QUERY_LENGTH" envDefault:"2000"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.DifyAPIKey == "" {
		errs = append(errs, errors.New("DIFY_API_KEY is required"))
	}
	if c.DifyEndpoint == "" {
		errs = append(errs, errors.New("DIFY_API_ENDPOINT must not be empty"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be at least 1"))
	}
	if c.SessionProvider == "redis" && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when SESSION_PROVIDER=redis"))
	}
	return errors.Join(errs...)
}
