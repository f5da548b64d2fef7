package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for loomline-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Engine tuning
	Engine EngineConfig `yaml:"engine"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"loomline"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"loomline_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`

	// Pool recycling bounds, in minutes.
	ConnLifetimeMinutes int `yaml:"conn_lifetime_minutes" env:"PGCONN_LIFETIME_MINUTES" env-default:"60"`
	ConnIdleMinutes     int `yaml:"conn_idle_minutes" env:"PGCONN_IDLE_MINUTES" env-default:"30"`

	// SeedRolesPath optionally points at a YAML role-catalog fixture applied
	// at startup, for local and staging environments where the catalog
	// differs from the migration seed.
	SeedRolesPath string `yaml:"seed_roles_path" env:"SEED_ROLES_PATH"`
}

// EngineConfig holds supply-chain engine tuning.
type EngineConfig struct {
	// LockTimeoutMS bounds the wait for the per-lot row lock. A timeout is
	// surfaced to callers as a retryable conflict.
	LockTimeoutMS int `yaml:"lock_timeout_ms" env:"ENGINE_LOCK_TIMEOUT_MS" env-default:"3000"`
}

// URL returns the PostgreSQL connection URL.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Load reads configuration from config.yaml (if present) and environment
// variables. Environment variables win.
func Load(version string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	cfg.Version = version

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.LockTimeoutMS <= 0 {
		return fmt.Errorf("engine.lock_timeout_ms must be positive, got %d", c.Engine.LockTimeoutMS)
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database.max_connections must be positive, got %d", c.Database.MaxConnections)
	}
	if c.Database.ConnLifetimeMinutes <= 0 || c.Database.ConnIdleMinutes <= 0 {
		return fmt.Errorf("database pool recycling bounds must be positive, got lifetime=%d idle=%d",
			c.Database.ConnLifetimeMinutes, c.Database.ConnIdleMinutes)
	}
	return nil
}
