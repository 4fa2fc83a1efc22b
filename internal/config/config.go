package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/livefeed/internal/identity"
	"github.com/syntrixbase/livefeed/internal/realtime"
	"github.com/syntrixbase/livefeed/internal/server"
	"github.com/syntrixbase/livefeed/internal/storage"
)

// DefaultConfigDir is where LoadConfig looks for config.yml.
const DefaultConfigDir = "config"

// Config holds the application configuration
type Config struct {
	Server   server.Config   `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Storage  storage.Config  `yaml:"storage"`
	Identity identity.Config `yaml:"identity"`
	Realtime realtime.Config `yaml:"realtime"`
}

// LoadConfig loads configuration from files and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate.
// Runtime data such as logs lives next to configDir unless LIVEFEED_DATA_DIR
// says otherwise.
func LoadConfig(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir
	}

	// Defaults first so YAML can override them, including bool fields.
	cfg := &Config{
		Server:   server.DefaultConfig(),
		Logging:  DefaultLoggingConfig(),
		Storage:  storage.DefaultConfig(),
		Identity: identity.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
	}

	loadFile(filepath.Join(configDir, "config.yml"), cfg)
	loadFile(filepath.Join(configDir, "config.local.yml"), cfg)

	dataDir := os.Getenv("LIVEFEED_DATA_DIR")
	if dataDir == "" {
		dataDir = filepath.Dir(filepath.Clean(configDir))
	}

	if err := ApplyServiceConfigs(configDir, dataDir,
		&cfg.Server,
		&cfg.Logging,
		&cfg.Storage,
		&cfg.Identity,
		&cfg.Realtime,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// loadFile merges filename into cfg. A missing file is skipped; an
// unreadable or malformed one is reported and skipped.
func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		slog.Warn("Error reading config file", "file", filename, "error", err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Error parsing config file", "file", filename, "error", err)
	}
}
