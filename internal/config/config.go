// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ashureev/prosim/internal/collaborator"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	Session      SessionConfig
	RateLimit    RateLimitConfig
	Archive      ArchiveConfig
	Collaborator CollaboratorConfig
	Telemetry    TelemetryConfig

	// ScenarioFile replaces the built-in catalog when set.
	ScenarioFile string `env:"SCENARIO_FILE"`
}

// SessionConfig controls the live session store.
type SessionConfig struct {
	RedisURL       string        `env:"REDIS_URL"`
	ActiveTTL      time.Duration `env:"SESSION_ACTIVE_TTL" envDefault:"2h"`
	CompletedTTL   time.Duration `env:"SESSION_COMPLETED_TTL" envDefault:"24h"`
	SweepInterval  time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
	LockEnabled    bool          `env:"SESSION_LOCK_ENABLED" envDefault:"false"`
	LockTTL        time.Duration `env:"SESSION_LOCK_TTL" envDefault:"2m"`
	TranscriptTail int           `env:"TRANSCRIPT_WINDOW" envDefault:"10"`
}

// RateLimitConfig throttles state-changing simulation requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"`
	WindowDuration    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// ArchiveConfig controls the SQLite archive of completed sessions.
type ArchiveConfig struct {
	DBPath string `env:"ARCHIVE_DB_PATH" envDefault:"./data/prosim.db"`
}

// CollaboratorConfig selects the text-generation backend.
type CollaboratorConfig struct {
	Provider    string        `env:"COLLABORATOR_PROVIDER" envDefault:"scripted"`
	APIKey      string        `env:"OPENAI_API_KEY"`
	BaseURL     string        `env:"OPENAI_BASE_URL"`
	Model       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	Temperature float64       `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	Timeout     time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"30s"`
	AgentAddr   string        `env:"PERSONA_AGENT_ADDR" envDefault:"localhost:50051"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Session.ActiveTTL <= 0 {
		return fmt.Errorf("SESSION_ACTIVE_TTL must be > 0")
	}
	if c.Session.CompletedTTL < c.Session.ActiveTTL {
		return fmt.Errorf("SESSION_COMPLETED_TTL must not be shorter than SESSION_ACTIVE_TTL")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Session.LockEnabled && c.Session.LockTTL <= 0 {
		return fmt.Errorf("SESSION_LOCK_TTL must be > 0 when locking is enabled")
	}
	if c.Session.TranscriptTail <= 0 {
		return fmt.Errorf("TRANSCRIPT_WINDOW must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Archive.DBPath == "" {
		return fmt.Errorf("ARCHIVE_DB_PATH cannot be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	switch c.Collaborator.Provider {
	case collaborator.ProviderOpenAI:
		if c.Collaborator.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case collaborator.ProviderGRPC:
		if c.Collaborator.AgentAddr == "" {
			return fmt.Errorf("PERSONA_AGENT_ADDR is required for the grpc provider")
		}
	case collaborator.ProviderScripted:
	default:
		return fmt.Errorf("unknown COLLABORATOR_PROVIDER %q", c.Collaborator.Provider)
	}
	if c.Collaborator.Timeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be > 0")
	}
	if c.Collaborator.Temperature < 0 || c.Collaborator.Temperature > 2 {
		return fmt.Errorf("OPENAI_TEMPERATURE must be between 0 and 2")
	}
	// A turn makes two collaborator calls while holding the lock.
	if c.Session.LockEnabled && c.Session.LockTTL <= 2*c.Collaborator.Timeout {
		return fmt.Errorf("SESSION_LOCK_TTL must exceed twice COLLABORATOR_TIMEOUT")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Origins returns the CORS allow-list. Without an explicit list it allows
// the frontend URL in production and everything in development.
func (c *Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// SlogLevel parses LOG_LEVEL.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return level, nil
}

// CollaboratorBackend converts the collaborator settings.
func (c *Config) CollaboratorBackend() collaborator.Config {
	return collaborator.Config{
		Provider:    c.Collaborator.Provider,
		APIKey:      c.Collaborator.APIKey,
		BaseURL:     c.Collaborator.BaseURL,
		Model:       c.Collaborator.Model,
		Temperature: c.Collaborator.Temperature,
		Timeout:     c.Collaborator.Timeout,
		Addr:        c.Collaborator.AgentAddr,
	}
}
