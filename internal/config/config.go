// Package config loads tallrd's settings: the supervisor's own
// daemon/tracing configuration plus the small settings file the host UI
// reads and writes (theme, preferred IDE, window placement). Nothing in
// this package writes either file.
package config

import (
	"errors"
	"os"
	"path/filepath"

	viperlib "github.com/spf13/viper"
)

// Settings is the persisted state described by the external interfaces
// section: UI-owned window/theme preferences plus the preferred IDE used
// when a task offers to open its repo. Tallrd only reads this file (see
// LoadSettings); it never writes it.
type Settings struct {
	AlwaysOnTop            bool           `mapstructure:"alwaysOnTop" yaml:"alwaysOnTop"`
	VisibleOnAllWorkspaces bool           `mapstructure:"visibleOnAllWorkspaces" yaml:"visibleOnAllWorkspaces"`
	WindowPosition         *WindowPlacement `mapstructure:"windowPosition,omitempty" yaml:"windowPosition,omitempty"`
	PreferredIDE           string         `mapstructure:"preferredIde" yaml:"preferredIde"`
	Theme                  string         `mapstructure:"theme" yaml:"theme"`
	SimpleMode             bool           `mapstructure:"simpleMode" yaml:"simpleMode"`
}

// WindowPlacement is the optional saved window geometry.
type WindowPlacement struct {
	X      int `mapstructure:"x" yaml:"x"`
	Y      int `mapstructure:"y" yaml:"y"`
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// DefaultSettings returns the settings file's defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		AlwaysOnTop:            false,
		VisibleOnAllWorkspaces: false,
		PreferredIDE:           "",
		Theme:                  "system",
		SimpleMode:             false,
	}
}

// TracingConfig mirrors internal/tracing.Config's shape for the portion
// that's user-overridable via the daemon config file.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	FilePath     string  `mapstructure:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Config is tallrd's own daemon configuration: the control plane address,
// bearer token, debug namespaces, and tracing. It is distinct from
// Settings, which belongs to the UI shell.
type Config struct {
	// Addr is the control plane's loopback bind address.
	// Default: "127.0.0.1:19999"
	Addr string `mapstructure:"addr"`

	// Token is the bearer token required on the control plane API.
	// Empty means generate one at start (see TALLR_TOKEN).
	Token string `mapstructure:"token"`

	// Debug holds DEBUG-style comma-separated namespaces
	// (tallr:state,tallr:network,...; "*" enables all).
	Debug string `mapstructure:"debug"`

	// Durable enables the sqlite-backed transition ledger mirror.
	Durable bool `mapstructure:"durable"`

	// DurableDBPath is where the durable mirror's sqlite file lives.
	// Default: ~/.config/tallr/tallr.db
	DurableDBPath string `mapstructure:"durable_db_path"`

	Tracing TracingConfig `mapstructure:"tracing"`
}

// DefaultConfig returns tallrd's daemon defaults.
func DefaultConfig() Config {
	return Config{
		Addr:    "127.0.0.1:19999",
		Debug:   "",
		Durable: false,
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}
}

// ConfigDir returns ~/.config/tallr, creating it if absent.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "tallr")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultDurableDBPath returns ~/.config/tallr/tallr.db, or "" if the
// home directory can't be resolved.
func DefaultDurableDBPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tallr.db")
}

// DefaultTracesFilePath returns ~/.config/tallr/traces/traces.jsonl, or ""
// if the home directory can't be resolved.
func DefaultTracesFilePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Load reads tallrd's daemon config from configPath, or from
// ~/.config/tallr/config.yaml if configPath is empty. Missing files are not
// an error: Load returns DefaultConfig() augmented by any TALLR_*
// environment variables viper picks up.
func Load(configPath string) (Config, error) {
	v := viperlib.New()
	v.SetEnvPrefix("TALLR")
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("addr", defaults.Addr)
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("durable", defaults.Durable)
	v.SetDefault("durable_db_path", DefaultDurableDBPath())
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		dir, err := ConfigDir()
		if err == nil {
			v.AddConfigPath(dir)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	cfg := defaults
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadSettings reads the UI settings file from path, or
// ~/.config/tallr/settings.yaml if path is empty. Returns DefaultSettings()
// if the file does not exist.
func LoadSettings(path string) (Settings, error) {
	v := viperlib.New()
	settings := DefaultSettings()
	v.SetDefault("alwaysOnTop", settings.AlwaysOnTop)
	v.SetDefault("visibleOnAllWorkspaces", settings.VisibleOnAllWorkspaces)
	v.SetDefault("preferredIde", settings.PreferredIDE)
	v.SetDefault("theme", settings.Theme)
	v.SetDefault("simpleMode", settings.SimpleMode)

	if path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return settings, nil
		}
		path = filepath.Join(dir, "settings.yaml")
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return settings, nil
		}
		return Settings{}, err
	}

	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}
