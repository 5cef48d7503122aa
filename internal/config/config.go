package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no config path is given on the command line.
const DefaultPath = "config.yaml"

// Interval is a numeric value plus a unit, used for retention and maintenance
// cadence settings. Months count as 30-day blocks.
type Interval struct {
	Value int    `yaml:"value"`
	Unit  string `yaml:"unit"`
}

// Duration converts the interval to a time.Duration. An unknown unit is an
// error for the caller to handle; it must not take the whole process down.
func (i Interval) Duration() (time.Duration, error) {
	if i.Value < 0 {
		return 0, fmt.Errorf("interval value must not be negative: %d", i.Value)
	}
	v := time.Duration(i.Value)
	switch i.Unit {
	case "minutes":
		return v * time.Minute, nil
	case "hours":
		return v * time.Hour, nil
	case "days":
		return v * 24 * time.Hour, nil
	case "months":
		return v * 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown interval unit: %q", i.Unit)
	}
}

// MonitoringConfig controls file discovery and the poll cadence.
type MonitoringConfig struct {
	Directory           string `yaml:"directory"`
	FilePattern         string `yaml:"file_pattern"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// DatabaseConfig holds connection parameters and target table names.
type DatabaseConfig struct {
	Driver                string `yaml:"driver"` // "sqlite" or "mysql"
	Path                  string `yaml:"path"`   // sqlite file path
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	User                  string `yaml:"user"`
	Password              string `yaml:"password"`
	Name                  string `yaml:"name"`
	EventsTable           string `yaml:"events_table"`
	LedgerTable           string `yaml:"ledger_table"`
	MaxReconnectAttempts  int    `yaml:"max_reconnect_attempts"`
	ReconnectDelaySeconds int    `yaml:"reconnect_delay_seconds"`
}

// LoaderConfig controls the deduplicating loader.
type LoaderConfig struct {
	BatchSize int  `yaml:"batch_size"`
	Optimized bool `yaml:"optimized"`
}

// MaintenanceConfig controls the periodic maintenance path.
type MaintenanceConfig struct {
	Interval         Interval `yaml:"interval"`
	LedgerMaxRecords int      `yaml:"ledger_max_records"`
	CleanupEnabled   bool     `yaml:"cleanup_enabled"`
	Retention        Interval `yaml:"retention"`
}

// LoggingConfig controls the log sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty disables the file sink
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TracingConfig controls the optional OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config holds all configuration for the application.
type Config struct {
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Database    DatabaseConfig    `yaml:"database"`
	Loader      LoaderConfig      `yaml:"loader"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			Directory:           "./alarm_files",
			FilePattern:         "Alarms_*.csv",
			PollIntervalSeconds: 10,
		},
		Database: DatabaseConfig{
			Driver:                "sqlite",
			Path:                  "./alarms.db",
			Host:                  "127.0.0.1",
			Port:                  3306,
			User:                  "alarm",
			Password:              "",
			Name:                  "alarm_monitor",
			EventsTable:           "alarms",
			LedgerTable:           "processing_state",
			MaxReconnectAttempts:  5,
			ReconnectDelaySeconds: 5,
		},
		Loader: LoaderConfig{
			BatchSize: 50,
			Optimized: true,
		},
		Maintenance: MaintenanceConfig{
			Interval:         Interval{Value: 6, Unit: "hours"},
			LedgerMaxRecords: 100,
			CleanupEnabled:   true,
			Retention:        Interval{Value: 12, Unit: "months"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "alarm_monitor.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "",
			Protocol: "grpc",
		},
	}
}

// Load reads configuration from the given YAML file, applying defaults for
// anything left unset. A missing file is not an error: a commented default
// file is written in its place and the defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if werr := writeDefault(path); werr != nil {
			return nil, fmt.Errorf("create default config %s: %w", path, werr)
		}
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if uerr := yaml.Unmarshal(data, cfg); uerr != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, uerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid. Retention units are
// deliberately not validated here: an unknown retention unit only aborts the
// expiry step at runtime.
func (c *Config) Validate() error {
	if c.Monitoring.Directory == "" {
		return fmt.Errorf("monitoring.directory is required")
	}
	if c.Monitoring.FilePattern == "" {
		return fmt.Errorf("monitoring.file_pattern is required")
	}
	if c.Monitoring.PollIntervalSeconds < 1 {
		return fmt.Errorf("monitoring.poll_interval_seconds must be at least 1")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for the mysql driver")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database.port must be between 1 and 65535")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or mysql, got %q", c.Database.Driver)
	}
	if c.Database.EventsTable == "" {
		return fmt.Errorf("database.events_table is required")
	}
	if c.Database.LedgerTable == "" {
		return fmt.Errorf("database.ledger_table is required")
	}
	if c.Database.MaxReconnectAttempts < 1 {
		return fmt.Errorf("database.max_reconnect_attempts must be at least 1")
	}
	if c.Database.ReconnectDelaySeconds < 0 {
		return fmt.Errorf("database.reconnect_delay_seconds must not be negative")
	}
	if c.Loader.BatchSize < 1 {
		return fmt.Errorf("loader.batch_size must be at least 1")
	}
	if c.Maintenance.LedgerMaxRecords < 1 {
		return fmt.Errorf("maintenance.ledger_max_records must be at least 1")
	}
	if _, err := c.Maintenance.Interval.Duration(); err != nil {
		return fmt.Errorf("maintenance.interval: %w", err)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol)
		}
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitoring.PollIntervalSeconds) * time.Second
}

// ReconnectDelay returns the pause between reconnection attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Database.ReconnectDelaySeconds) * time.Second
}

func writeDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}

	header := []byte("# alarm-monitor configuration, generated with defaults.\n# Adjust and restart the service to apply.\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
