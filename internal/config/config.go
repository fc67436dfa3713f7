package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Market         MarketConfig         `yaml:"market"`
	Notify         NotifyConfig         `yaml:"notify"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// ServerConfig holds HTTP server settings. Port serves the API, OpsPort
// the health and readiness endpoints.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	OpsPort         int           `yaml:"ops_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// MarketConfig holds marketplace business settings.
type MarketConfig struct {
	// FeeRate is the platform fee fraction taken from each sale.
	FeeRate float64 `yaml:"fee_rate"`
	// ReconcileInterval is how often the scheduler scans for expired
	// auctions.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// NotifyConfig holds notification sink settings. Discord announcements
// are optional and disabled when the token is empty.
type NotifyConfig struct {
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// LeaderElectionConfig holds Kubernetes leader election settings for the
// reconciliation scheduler.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			OpsPort:         8081,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "artmarket",
			ServiceVersion: "0.1.0",
		},
		Market: MarketConfig{
			FeeRate:           0.025,
			ReconcileInterval: time.Minute,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "artmarket-reconciler",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Market.FeeRate < 0 || c.Market.FeeRate >= 1 {
		return fmt.Errorf("fee_rate %v out of range [0, 1)", c.Market.FeeRate)
	}
	if c.Market.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive, got %v", c.Market.ReconcileInterval)
	}
	return nil
}
