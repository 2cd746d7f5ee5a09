// Package config loads TACOPS runtime configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Server
	Host string `env:"TACOPS_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"3000"`

	// Database
	DatabaseURL    string `env:"DATABASE_URL,required"`
	DatabaseCACert string `env:"DATABASE_CA_CERT"`

	// Redis — backs the dedup fast-path cache and the login rate limiter.
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// CORS fallback, used only until the config cache has a cors_origin entry.
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`

	// Credential vault. If unset, sourced from (and, for the encryption key,
	// auto-generated into) the config cache on first use.
	JWTSecret     string `env:"JWT_SECRET"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// Slack admin notification fan-out (optional — disabled if unset).
	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"SLACK_ALERT_CHANNEL"`

	// Threat pipeline LLM provider.
	SearchProviderURL string `env:"SEARCH_PROVIDER_URL" envDefault:"https://api.openai.com/v1/responses"`
	SearchProviderKey string `env:"SEARCH_PROVIDER_KEY"`
	SearchModel       string `env:"SEARCH_MODEL" envDefault:"gpt-4.1"`
	DedupModel        string `env:"DEDUP_MODEL" envDefault:"gpt-4.1-mini"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
