package gateway

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds gateway server configuration. Values come from an optional
// YAML file, with environment variables taking precedence.
type Config struct {
	Port  string `yaml:"port"`
	Store string `yaml:"store"` // "memory" or "postgres"

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Postgres PostgresConfig `yaml:"postgres"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

// PostgresConfig holds connection settings for the postgres store backend.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.Port = "8080"
	cfg.Store = "memory"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.StreamName = "AUCTION_EVENTS"
	cfg.NATS.SubjectPrefix = "auction.events"
	cfg.Postgres = PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "bidhaus",
		SSLMode:  "disable",
	}
	cfg.CORS.AllowedOrigins = []string{"*"}
	return cfg
}

// LoadConfig builds the configuration: defaults, then the YAML file at path
// (if non-empty), then environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Port = getEnv("GATEWAY_PORT", cfg.Port)
	cfg.Store = getEnv("GATEWAY_STORE", cfg.Store)
	cfg.NATS.Enabled = getEnvAsBool("NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.StreamName = getEnv("NATS_STREAM", cfg.NATS.StreamName)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
	cfg.Postgres.Host = getEnv("DB_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = getEnvAsInt("DB_PORT", cfg.Postgres.Port)
	cfg.Postgres.User = getEnv("DB_USER", cfg.Postgres.User)
	cfg.Postgres.Password = getEnv("DB_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.Database = getEnv("DB_NAME", cfg.Postgres.Database)
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", cfg.Postgres.SSLMode)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
