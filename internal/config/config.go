// Package config loads the engine's configuration record (§6.2): never
// fails hard, falling back to documented defaults on any read or parse
// error, the same way the teacher's internal/config/local_config.go
// treats its own config.yaml.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigEnvVar names the environment variable that overrides the
// conventional config path (§6.2).
const DefaultConfigEnvVar = "COORD_CONFIG"

const defaultDataDirectory = ".coordination"
const defaultArchiveDays = 30
const defaultTokenLimit = 1_000_000
const defaultPriorityThreshold = "H"

// NotificationSettings controls the (unimplemented transport's) delivery
// behavior, carried here so the record round-trips even though no
// SPEC_FULL component currently consumes it at runtime.
type NotificationSettings struct {
	Enabled            bool   `yaml:"enabled"`
	PriorityThreshold  string `yaml:"priority_threshold"`
	BatchNotifications bool   `yaml:"batch_notifications"`
}

// Config is the engine's configuration record (§6.2).
type Config struct {
	ParticipantID        string               `yaml:"participant_id"`
	DataDirectory        string               `yaml:"data_directory"`
	ArchiveDays          int                  `yaml:"archive_days"`
	TokenLimit           int                  `yaml:"token_limit"`
	AutoCompact          bool                 `yaml:"auto_compact"`
	Participants         []string             `yaml:"participants"`
	NotificationSettings NotificationSettings `yaml:"notification_settings"`
}

// Default returns the documented default record (§6.2).
func Default() *Config {
	return &Config{
		DataDirectory: defaultDataDirectory,
		ArchiveDays:   defaultArchiveDays,
		TokenLimit:    defaultTokenLimit,
		AutoCompact:   true,
		NotificationSettings: NotificationSettings{
			Enabled:           true,
			PriorityThreshold: defaultPriorityThreshold,
		},
	}
}

// Load reads the config file named by COORD_CONFIG, or "coordination.yaml"
// in the current directory if unset, applying defaults for any field the
// file omits. A missing or unparsable file is not an error: Load falls
// back to Default() entirely, mirroring LoadLocalConfig's "never fail
// hard" contract.
func Load() *Config {
	path := os.Getenv(DefaultConfigEnvVar)
	if path == "" {
		path = "coordination.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads and parses the YAML file at path, filling any zero-value
// field with its default. Returns Default() unchanged if the file cannot
// be read or parsed.
func LoadFrom(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 - path is operator-supplied config, not request input
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default()
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = defaultDataDirectory
	}
	if cfg.ArchiveDays == 0 {
		cfg.ArchiveDays = defaultArchiveDays
	}
	if cfg.TokenLimit == 0 {
		cfg.TokenLimit = defaultTokenLimit
	}
	if cfg.NotificationSettings.PriorityThreshold == "" {
		cfg.NotificationSettings.PriorityThreshold = defaultPriorityThreshold
	}
}

// AbsDataDirectory resolves DataDirectory against base (typically the
// process's working directory at startup).
func (c *Config) AbsDataDirectory(base string) string {
	if filepath.IsAbs(c.DataDirectory) {
		return c.DataDirectory
	}
	return filepath.Join(base, c.DataDirectory)
}
