package config

import (
	"fmt"
	"time"
)

// DatabaseConfig selects and tunes the relational store.
// Driver is "sqlite" (Path) or "postgres" (URL).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	// busy_timeout lets the background processor and API handlers share one file
	return fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", c.Path)
}
