// Package config provides configuration management for the findings servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mammography-findings-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string `envconfig:"DATA_DIR"`

	// Cache settings
	CacheMaxItems int           `envconfig:"CACHE_MAX_ITEMS" default:"1000"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"24h"`

	// Engine settings
	RulesFile           string  `envconfig:"RULES_FILE"`
	Workers             int     `envconfig:"WORKERS" default:"4"`
	DetectionConfidence float64 `envconfig:"DETECTION_CONFIDENCE" default:"0.8"`
	Language            string  `envconfig:"LANGUAGE"`

	// Transport settings
	Transport string `envconfig:"TRANSPORT" default:"stdio"`
	HTTPPort  int    `envconfig:"HTTP_PORT" default:"8080"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	return &LiteConfig{
		DataDir:             defaultDataDir(),
		CacheMaxItems:       1000,
		CacheTTL:            24 * time.Hour,
		Workers:             4,
		DetectionConfidence: 0.8,
		Transport:           "stdio",
		HTTPPort:            8080,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

func defaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mammography-findings")
}

// LoadLiteConfig loads configuration from MAMMO_* environment variables.
// Unset variables keep their defaults.
func LoadLiteConfig() (*LiteConfig, error) {
	var cfg LiteConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.CacheMaxItems <= 0 {
		return nil, fmt.Errorf("cache max items must be positive: %d", cfg.CacheMaxItems)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive: %d", cfg.Workers)
	}
	return &cfg, nil
}

// Engine returns the engine section equivalent to this configuration.
func (c *LiteConfig) Engine() domain.EngineConfig {
	return domain.EngineConfig{
		RulesFile:           c.RulesFile,
		Workers:             c.Workers,
		DetectionConfidence: c.DetectionConfidence,
		DefaultLanguage:     c.Language,
	}
}

// FeedbackDBPath returns the path to the review SQLite database.
func (c *LiteConfig) FeedbackDBPath() string {
	return filepath.Join(c.DataDir, "reviews.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
