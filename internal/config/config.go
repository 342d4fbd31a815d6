// Package config loads and saves the switchboard configuration.
// Priority: environment > file > defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/jobswitch-ai/switchboard/internal/alert"
	"github.com/jobswitch-ai/switchboard/internal/events"
	"github.com/jobswitch-ai/switchboard/internal/journal"
	"github.com/jobswitch-ai/switchboard/internal/orchestrator"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".switchboard"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// JournalFile is the default journal database file name.
	JournalFile = "journal.db"
)

// Config is the root configuration for the switchboard daemon.
type Config struct {
	Orchestrator orchestrator.Config `json:"orchestrator"`
	Journal      journal.Config      `json:"journal"`
	Events       events.Config       `json:"events"`
	Alerts       alert.Config        `json:"alerts"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: orchestrator.DefaultConfig(),
		Journal: journal.Config{
			Enabled: true,
		},
		Events: events.Config{
			Brokers: "localhost:9092",
			Topic:   "switchboard.events",
		},
		Alerts: alert.Config{
			Channel: "#switchboard-alerts",
		},
	}
}

// ConfigPath returns the path to the config file. SWITCHBOARD_CONFIG wins,
// then SWITCHBOARD_HOME, then ~/.switchboard/config.json.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SWITCHBOARD_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// HomeDir returns the directory holding the config file and journal db.
func HomeDir() (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Dir(path), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SWITCHBOARD_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // fall back to defaults if home cannot be resolved
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Environment overrides, group by group.
	envconfig.Process("SWITCHBOARD_ORCHESTRATOR", &cfg.Orchestrator)
	envconfig.Process("SWITCHBOARD", &cfg.Journal)
	envconfig.Process("SWITCHBOARD", &cfg.Events)
	envconfig.Process("SWITCHBOARD", &cfg.Alerts)

	if cfg.Journal.Path == "" {
		if home, err := HomeDir(); err == nil {
			cfg.Journal.Path = filepath.Join(home, JournalFile)
		}
	}
	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
