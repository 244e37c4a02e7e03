package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for the BinAssist data layer.
type Config struct {
	// DataDir holds the SQLite databases. If empty, DefaultDataDir is used.
	DataDir string `json:"data_dir,omitempty"`

	// AnalysisDBPath and SettingsDBPath override the per-file defaults
	// under DataDir.
	AnalysisDBPath string `json:"analysis_db_path,omitempty"`
	SettingsDBPath string `json:"settings_db_path,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.TrimSpace(c.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format: %q", c.LogFormat)
	}
	switch strings.TrimSpace(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}

// DefaultDataDir returns the per-user data directory:
//
//	~/.binassist
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".binassist"
	}
	return filepath.Join(home, ".binassist")
}

// DefaultConfigPath returns the default config path:
//
//	~/.binassist/config.json
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}

// ResolveDataDir returns the configured data dir or the default.
func (c *Config) ResolveDataDir() string {
	if c != nil && strings.TrimSpace(c.DataDir) != "" {
		return c.DataDir
	}
	return DefaultDataDir()
}

// ResolveAnalysisDBPath returns the analysis database location.
func (c *Config) ResolveAnalysisDBPath() string {
	if c != nil && strings.TrimSpace(c.AnalysisDBPath) != "" {
		return c.AnalysisDBPath
	}
	return filepath.Join(c.ResolveDataDir(), "analysis.db")
}

// ResolveSettingsDBPath returns the settings database location.
func (c *Config) ResolveSettingsDBPath() string {
	if c != nil && strings.TrimSpace(c.SettingsDBPath) != "" {
		return c.SettingsDBPath
	}
	return filepath.Join(c.ResolveDataDir(), "settings.db")
}

// Load reads a config file. A missing file yields an empty config so the
// defaults apply.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
