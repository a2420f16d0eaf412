package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/pemcodec"
)

// Backend names where the archive lives.
type Backend string

const (
	BackendZip       Backend = "zip"
	BackendMemory    Backend = "memory"
	BackendFirestore Backend = "firestore"
)

const (
	DefaultFirestoreCollection = "key-archives"
	DefaultArchiveName         = "default"
)

// Config is the runtime configuration of a key archive. It is created in two
// stages:
// 1. Loaded from YAML (see NewConfigFromYaml).
// 2. Updated with environment variables (see UpdateConfigWithEnvOverrides).
type Config struct {
	Backend          Backend
	ArchivePath      string
	PEMMode          pemcodec.Mode
	DefaultAlgorithm string
	// CreateIfMissing makes opening a missing archive yield an empty store
	// instead of an error.
	CreateIfMissing bool

	// Firestore backend only.
	ProjectID           string
	FirestoreCollection string
	ArchiveName         string

	LogLevel slog.Level
}

// UpdateConfigWithEnvOverrides completes the base configuration with
// environment variables and runs the final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if backend := os.Getenv("KEYARCHIVE_BACKEND"); backend != "" {
		logger.Debug("Overriding config value", "key", "KEYARCHIVE_BACKEND", "source", "env")
		cfg.Backend = Backend(strings.ToLower(backend))
	}
	if path := os.Getenv("KEYARCHIVE_PATH"); path != "" {
		logger.Debug("Overriding config value", "key", "KEYARCHIVE_PATH", "source", "env")
		cfg.ArchivePath = path
	}
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		logger.Debug("Overriding config value", "key", "GCP_PROJECT_ID", "source", "env")
		cfg.ProjectID = projectID
	}
	if mode := os.Getenv("KEYARCHIVE_PEM_MODE"); mode != "" {
		logger.Debug("Overriding config value", "key", "KEYARCHIVE_PEM_MODE", "source", "env")
		pemMode, err := pemcodec.ParseMode(mode)
		if err != nil {
			logger.Error("Final config validation failed", "error", err)
			return nil, err
		}
		cfg.PEMMode = pemMode
	}

	if err := cfg.validate(); err != nil {
		logger.Error("Final config validation failed", "error", err)
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendZip:
		if c.ArchivePath == "" {
			return fmt.Errorf("archive_path is required for the %s backend", c.Backend)
		}
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("project_id is required for the %s backend", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if _, err := keys.Lookup(c.DefaultAlgorithm); err != nil {
		return fmt.Errorf("default_algorithm: %w", err)
	}
	return nil
}

// ParseLogLevel accepts the slog level names (debug, info, warn, error). An
// empty string selects info.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}
