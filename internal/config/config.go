package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	// Server
	Port     string `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Database
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"file:chat.db"`
	MigrationsDir  string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	// Redis relay; empty disables it
	RedisURL           string `envconfig:"REDIS_URL"`
	RedisChannelPrefix string `envconfig:"REDIS_CHANNEL_PREFIX" default:"chat:"`

	// JWT; empty trusts X-User-Id only
	JWTSecret string `envconfig:"JWT_SECRET"`

	// Frontend
	FrontendURL string   `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	// Messaging
	ReplaySize      int           `envconfig:"REPLAY_SIZE" default:"100"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"50"`
	MaxHistoryLimit int           `envconfig:"MAX_HISTORY_LIMIT" default:"100"`
	TopicIdleTTL    time.Duration `envconfig:"TOPIC_IDLE_TTL" default:"24h"`
	JanitorInterval time.Duration `envconfig:"JANITOR_INTERVAL" default:"10m"`

	// Requests per minute per caller on the HTTP API
	RateLimit int `envconfig:"RATE_LIMIT" default:"120"`

	InitiatorService string `envconfig:"INITIATOR_SERVICE" default:"chat-service"`
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks driver-specific requirements and numeric ranges.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER=%s", DriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	if c.ReplaySize < 1 {
		return fmt.Errorf("REPLAY_SIZE must be positive, got %d", c.ReplaySize)
	}
	if c.HistoryLimit < 1 || c.MaxHistoryLimit < c.HistoryLimit {
		return fmt.Errorf("HISTORY_LIMIT must be between 1 and MAX_HISTORY_LIMIT (%d), got %d", c.MaxHistoryLimit, c.HistoryLimit)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %d", c.RateLimit)
	}
	return nil
}

// AllowedOrigins is CORS_ORIGINS when set, FRONTEND_URL otherwise.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 && c.FrontendURL != "" {
		out = append(out, c.FrontendURL)
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
