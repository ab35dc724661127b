// Package config loads provtrail settings from a YAML (or .env) file and
// PROVTRAIL_* environment variables. Environment values override the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full runtime configuration.
type Config struct {
	Database    DatabaseConfig `yaml:"database"`
	Artifacts   ArtifactConfig `yaml:"artifacts"`
	Bundle      BundleConfig   `yaml:"bundle"`
	Log         LogConfig      `yaml:"log"`
	PolicyFile  string         `yaml:"policy_file" env:"PROVTRAIL_POLICY_FILE"`
	TemplateDir string         `yaml:"template_dir" env:"PROVTRAIL_TEMPLATE_DIR"`

	// ObservedAt stamps every provenance entry of a run (RFC 3339).
	ObservedAt string `yaml:"observed_at" env:"PROVTRAIL_OBSERVED_AT" env-default:"2025-08-09T00:00:00Z"`

	// Concurrency bounds parallel runs in batch mode.
	Concurrency int `yaml:"concurrency" env:"PROVTRAIL_CONCURRENCY" env-default:"4"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"PROVTRAIL_DB_DRIVER" env-default:"sqlite3"`
	DSN    string `yaml:"dsn" env:"PROVTRAIL_DB_DSN" env-default:"provtrail.db"`
}

type ArtifactConfig struct {
	Dir string `yaml:"dir" env:"PROVTRAIL_ARTIFACT_DIR" env-default:"artifacts"`
}

type BundleConfig struct {
	Secret        string `yaml:"secret" env:"PROVTRAIL_BUNDLE_SECRET" env-default:"provtrail-dev-key"`
	PreviewLength int    `yaml:"preview_length" env:"PROVTRAIL_PREVIEW_LENGTH" env-default:"256"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"PROVTRAIL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"PROVTRAIL_LOG_FORMAT" env-default:"text"`
}

// Load reads path (when non-empty) and the environment, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("config: database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("config: artifacts.dir is required")
	}
	if c.Bundle.PreviewLength <= 0 {
		return fmt.Errorf("config: bundle.preview_length must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive")
	}
	if _, err := c.ObservedTime(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ObservedTime parses ObservedAt.
func (c *Config) ObservedTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.ObservedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: observed_at: %w", err)
	}
	return t.UTC(), nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the process logger. verbose forces debug level.
func (c *Config) NewLogger(verbose bool) *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
