package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DatabaseConfig defines the request status database shared by the ingestion
// and engine services.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" json:"dsn" env:"DATABASE_DSN"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
	MinConnections int    `yaml:"min_connections" json:"min_connections"`
	MaxIdleTime    string `yaml:"max_idle_time" json:"max_idle_time"`
	MaxLifetime    string `yaml:"max_lifetime" json:"max_lifetime"`
}

// SetDefaults sets sensible default values for the database configuration
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 20
		warnDefault("database.max_connections", c.MaxConnections)
	}
	if c.MinConnections <= 0 {
		c.MinConnections = 2
		warnDefault("database.min_connections", c.MinConnections)
	}
	if c.MaxIdleTime == "" {
		c.MaxIdleTime = "1h"
		warnDefault("database.max_idle_time", c.MaxIdleTime)
	}
	if c.MaxLifetime == "" {
		c.MaxLifetime = "24h"
		warnDefault("database.max_lifetime", c.MaxLifetime)
	}
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("database max_connections must be positive")
	}
	if c.MinConnections < 0 {
		return fmt.Errorf("database min_connections cannot be negative")
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("database min_connections (%d) cannot be greater than max_connections (%d)",
			c.MinConnections, c.MaxConnections)
	}
	if _, err := time.ParseDuration(c.MaxIdleTime); err != nil {
		return fmt.Errorf("invalid database max_idle_time %q: %w", c.MaxIdleTime, err)
	}
	if _, err := time.ParseDuration(c.MaxLifetime); err != nil {
		return fmt.Errorf("invalid database max_lifetime %q: %w", c.MaxLifetime, err)
	}
	return nil
}

// LogConfiguration logs the database configuration without the DSN.
func (c *DatabaseConfig) LogConfiguration(logger *zap.Logger) {
	logger.Info("Database configuration",
		zap.Int("max_connections", c.MaxConnections),
		zap.Int("min_connections", c.MinConnections),
		zap.String("max_idle_time", c.MaxIdleTime),
		zap.String("max_lifetime", c.MaxLifetime))
}
