// Package config resolves helix settings from defaults, an optional YAML
// file and HELIX_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all helix configuration.
type Config struct {
	// DBPath is the SQLite database file. Empty means the store default.
	DBPath string `yaml:"db_path"`

	// OutboxDir holds the BadgerDB queue of unsaved snapshots.
	// Empty means <data home>/outbox.
	OutboxDir string `yaml:"outbox_dir"`

	// CatalogPath overrides the embedded content catalog.
	CatalogPath string `yaml:"catalog_path"`

	// LearnerID selects whose tubes the CLI operates on. Default: "default".
	LearnerID string `yaml:"learner_id" validate:"required"`

	// LogLevel is one of debug, info, warn, error. Default: "warn".
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// RejectConcurrent fails overlapping operations with a busy error
	// instead of queueing them.
	RejectConcurrent bool `yaml:"reject_concurrent"`

	// RotateOnComplete advances the active tube after every graded
	// attempt. Default: true.
	RotateOnComplete bool `yaml:"rotate_on_complete"`

	// SnapshotsToKeep is how many snapshots per learner survive pruning.
	// Default: 20.
	SnapshotsToKeep int `yaml:"snapshots_to_keep" validate:"gte=1"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures retries of snapshot saves.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	InitialWait time.Duration `yaml:"initial_wait" validate:"gte=0"`
	MaxWait     time.Duration `yaml:"max_wait" validate:"gtefield=InitialWait"`
	Multiplier  float64       `yaml:"multiplier" validate:"gte=1"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LearnerID:        "default",
		LogLevel:         "warn",
		RotateOnComplete: true,
		SnapshotsToKeep:  20,
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: 200 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Multiplier:  2.0,
		},
	}
}

// DefaultPath returns the config file location:
// $HELIX_CONFIG, else $XDG_CONFIG_HOME/triplehelix/config.yaml,
// else ~/.config/triplehelix/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv("HELIX_CONFIG"); p != "" {
		return p, nil
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "triplehelix", "config.yaml"), nil
}

// Load builds the effective configuration. A missing file at the default
// location is not an error; a missing file that was asked for explicitly is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
		explicit = os.Getenv("HELIX_CONFIG") != ""
	}

	var err error
	cfg, err = LoadFile(path, cfg)
	if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return cfg, err
	}

	cfg, err = ApplyEnv(cfg)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path onto base. Keys absent from the
// file keep their value from base.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ConfigFromEnv builds a Config from environment variables, falling back
// to defaults for unset values.
func ConfigFromEnv() (Config, error) {
	return ApplyEnv(DefaultConfig())
}

// ApplyEnv overlays HELIX_* environment variables onto cfg.
func ApplyEnv(cfg Config) (Config, error) {
	if v := os.Getenv("HELIX_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HELIX_OUTBOX_DIR"); v != "" {
		cfg.OutboxDir = v
	}
	if v := os.Getenv("HELIX_CATALOG"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("HELIX_LEARNER"); v != "" {
		cfg.LearnerID = v
	}
	if v := os.Getenv("HELIX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	var err error
	if cfg.RejectConcurrent, err = envBool("HELIX_REJECT_CONCURRENT", cfg.RejectConcurrent); err != nil {
		return cfg, err
	}
	if cfg.RotateOnComplete, err = envBool("HELIX_ROTATE_ON_COMPLETE", cfg.RotateOnComplete); err != nil {
		return cfg, err
	}
	if v := os.Getenv("HELIX_SNAPSHOTS_KEEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("HELIX_SNAPSHOTS_KEEP: %w", err)
		}
		cfg.SnapshotsToKeep = n
	}
	if v := os.Getenv("HELIX_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("HELIX_RETRY_ATTEMPTS: %w", err)
		}
		cfg.Retry.MaxAttempts = n
	}
	return cfg, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
