package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Generative provider names accepted by GENERATIVE_PROVIDER.
const (
	ProviderAuto   = "auto"
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config holds the configuration for the coach service.
// Environment variables are parsed with the COACH_ prefix; tagged fields also
// fall back to the unprefixed name (e.g. OPENAI_API_KEY).
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage: postgres or sqlite
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/coach.db"`

	// Generative suggestions; absence of credentials selects rule-based mode.
	GenerativeProvider string        `envconfig:"GENERATIVE_PROVIDER" default:"auto"`
	GenerativeModel    string        `envconfig:"GENERATIVE_MODEL" default:"gpt-3.5-turbo"`
	GenerativeTimeout  time.Duration `envconfig:"GENERATIVE_TIMEOUT" default:"8s"`
	OpenAIAPIKey       string        `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL      string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OllamaURL          string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`

	// Suggestion cache (Redis). Empty address disables caching.
	RedisAddr        string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	SuggestCacheTTL  time.Duration `envconfig:"SUGGEST_CACHE_TTL" default:"10m"`
	SuggestEventsMax int           `envconfig:"SUGGEST_EVENTS_MAX" default:"50"`
	SuggestMsgsMax   int           `envconfig:"SUGGEST_MESSAGES_MAX" default:"20"`

	// Outbox relay to NATS. Empty URL logs records instead of publishing.
	NATSURL           string        `envconfig:"NATS_URL" default:""`
	NATSSubjectPrefix string        `envconfig:"NATS_SUBJECT_PREFIX" default:"coach.messages"`
	OutboxBatchSize   int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxInterval    time.Duration `envconfig:"OUTBOX_INTERVAL" default:"2s"`
	OutboxEmbedded    bool          `envconfig:"OUTBOX_EMBEDDED" default:"false"`

	// Health check timing
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
	BootstrapTimeoutSeconds   int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"5"`
}

// ResolveDefaults validates the DB driver and derives "auto" selections.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}
	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
	}

	switch c.GenerativeProvider {
	case "", ProviderAuto:
		if c.OpenAIAPIKey != "" {
			c.GenerativeProvider = ProviderOpenAI
		} else {
			c.GenerativeProvider = ProviderNone
		}
	case ProviderOpenAI:
		// A missing key is not fatal: the service silently stays rule-based.
		if c.OpenAIAPIKey == "" {
			c.GenerativeProvider = ProviderNone
		}
	case ProviderNone, ProviderOllama:
	default:
		return fmt.Errorf("unsupported GENERATIVE_PROVIDER: %s", c.GenerativeProvider)
	}

	if c.GenerativeTimeout <= 0 {
		c.GenerativeTimeout = 8 * time.Second
	}
	if c.SuggestEventsMax <= 0 {
		c.SuggestEventsMax = 50
	}
	if c.SuggestMsgsMax <= 0 {
		c.SuggestMsgsMax = 20
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Example: COACH_HTTP_PORT, COACH_POSTGRES_DSN
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("COACH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("generative_provider", cfg.GenerativeProvider).
		Dur("generative_timeout", cfg.GenerativeTimeout).
		Bool("suggest_cache", cfg.RedisAddr != "").
		Bool("nats", cfg.NATSURL != "").
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		DBDriver:                  "sqlite",
		SQLitePath:                ":memory:",
		GenerativeProvider:        ProviderNone,
		GenerativeModel:           "gpt-3.5-turbo",
		GenerativeTimeout:         time.Second,
		SuggestCacheTTL:           time.Minute,
		SuggestEventsMax:          50,
		SuggestMsgsMax:            20,
		NATSSubjectPrefix:         "coach.messages",
		OutboxBatchSize:           10,
		OutboxInterval:            10 * time.Millisecond,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
		BootstrapTimeoutSeconds:   1,
	}
	return cfg
}

// GenerativeEnabled reports whether a generative backend was selected.
func (c *Config) GenerativeEnabled() bool {
	return c.GenerativeProvider != ProviderNone && c.GenerativeProvider != ""
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
