package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/pemcodec"
)

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	Backend             string `yaml:"backend"`
	ArchivePath         string `yaml:"archive_path"`
	PEMMode             string `yaml:"pem_mode"`
	DefaultAlgorithm    string `yaml:"default_algorithm"`
	CreateIfMissing     bool   `yaml:"create_if_missing"`
	ProjectID           string `yaml:"project_id"`
	FirestoreCollection string `yaml:"firestore_collection"`
	ArchiveName         string `yaml:"archive_name"`
	LogLevel            string `yaml:"log_level"`
}

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a base
// Config, filling in defaults. Environment overrides are applied afterwards by
// UpdateConfigWithEnvOverrides.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	pemMode, err := pemcodec.ParseMode(baseCfg.PEMMode)
	if err != nil {
		logger.Error("Invalid YAML config value", "key", "pem_mode", "err", err)
		return nil, err
	}

	level, err := ParseLogLevel(baseCfg.LogLevel)
	if err != nil {
		logger.Error("Invalid YAML config value", "key", "log_level", "err", err)
		return nil, err
	}

	cfg := &Config{
		Backend:             Backend(strings.ToLower(baseCfg.Backend)),
		ArchivePath:         baseCfg.ArchivePath,
		PEMMode:             pemMode,
		DefaultAlgorithm:    baseCfg.DefaultAlgorithm,
		CreateIfMissing:     baseCfg.CreateIfMissing,
		ProjectID:           baseCfg.ProjectID,
		FirestoreCollection: baseCfg.FirestoreCollection,
		ArchiveName:         baseCfg.ArchiveName,
		LogLevel:            level,
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendZip
	}
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = keys.DefaultAlgorithm
	}
	if cfg.FirestoreCollection == "" {
		cfg.FirestoreCollection = DefaultFirestoreCollection
	}
	if cfg.ArchiveName == "" {
		cfg.ArchiveName = DefaultArchiveName
	}

	logger.Debug("YAML config mapping complete",
		"backend", cfg.Backend,
		"archive_path", cfg.ArchivePath,
		"pem_mode", cfg.PEMMode,
		"default_algorithm", cfg.DefaultAlgorithm,
		"create_if_missing", cfg.CreateIfMissing,
		"project_id", cfg.ProjectID,
		"firestore_collection", cfg.FirestoreCollection,
		"archive_name", cfg.ArchiveName,
		"log_level", cfg.LogLevel,
	)

	return cfg, nil
}

// ParseYaml unmarshals raw YAML bytes and builds the final configuration.
func ParseYaml(data []byte, logger *slog.Logger) (*Config, error) {
	var yamlCfg YamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		logger.Error("Failed to parse YAML config", "err", err)
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	baseCfg, err := NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return UpdateConfigWithEnvOverrides(baseCfg, logger)
}

// LoadFromFile reads a YAML file, applies environment overrides and validates
// the result.
func LoadFromFile(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("Loading config from file", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read config file", "path", path, "err", err)
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}
	return ParseYaml(data, logger)
}
