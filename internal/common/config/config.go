// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct. Infrastructure-level
// settings only: the upstream API key and per-form ids live in the runtime
// settings table, not here.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	FormAPI  FormAPIConfig  `mapstructure:"form_api"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig holds object storage settings for migrated files.
type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	SignedURLTTL int    `mapstructure:"signed_url_ttl"` // seconds

	// ExternalHosts lists the upstream CDN hostnames. A resume URL on one of
	// these hosts still needs migration into internal storage.
	ExternalHosts []string `mapstructure:"external_hosts"`
}

// FormAPIConfig holds settings for the upstream form-submission API.
type FormAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	PublicBaseURL  string `mapstructure:"public_base_url"` // human-facing form links
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	MaxAttempts    int    `mapstructure:"max_attempts"`
	InitialBackoff int    `mapstructure:"initial_backoff"` // milliseconds
	PageSize       int    `mapstructure:"page_size"`
	MatchWindow    int    `mapstructure:"match_window"` // candidates scanned per auxiliary form
}

// SyncConfig holds settings for the reconciliation loop.
type SyncConfig struct {
	Interval      int    `mapstructure:"interval"` // seconds between scheduled cycles
	ListenAddress string `mapstructure:"listen_address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
