// Package config loads the runtime configuration: built-in defaults,
// then a YAML file, then environment variables, in that precedence
// order, validated into a typed struct before any component starts.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables the loader recognizes.
const (
	EnvConfigPath   = "RELAYCORE_CONFIG"
	EnvLogLevel     = "RELAYCORE_LOG_LEVEL"
	EnvOTLPEndpoint = "RELAYCORE_OTLP_ENDPOINT"
	EnvCredentialDB = "RELAYCORE_CREDENTIAL_DB"
)

// DefaultPath is used when RELAYCORE_CONFIG is unset.
const DefaultPath = "./relaycore.yaml"

// Config is the validated runtime configuration.
type Config struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	CredentialDB string `yaml:"credential_db"`

	Task   TaskConfig   `yaml:"task"`
	Editor EditorConfig `yaml:"editor"`

	// Providers maps provider names to their settings.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// TaskConfig bounds the dispatcher.
type TaskConfig struct {
	MaxConcurrency int    `yaml:"maxConcurrency"`
	MaxDepth       int    `yaml:"maxDepth"`
	SessionDir     string `yaml:"sessionDir"`
	PythonToolMode string `yaml:"pythonToolMode"`
}

// EditorConfig shapes the line editor.
type EditorConfig struct {
	Width int `yaml:"width"`
}

// ProviderConfig describes one upstream provider.
type ProviderConfig struct {
	BaseURL       string `yaml:"base_url"`
	UsageEndpoint string `yaml:"usage_endpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:     "info",
		CredentialDB: "./relaycore-credentials.db",
		Task: TaskConfig{
			MaxConcurrency: 4,
			MaxDepth:       3,
			PythonToolMode: "bash",
		},
		Editor: EditorConfig{Width: 80},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path
// (or RELAYCORE_CONFIG, or DefaultPath; a missing file is fine), then
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv(EnvCredentialDB); v != "" {
		cfg.CredentialDB = v
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if c.Task.MaxConcurrency <= 0 {
		return fmt.Errorf("config: task.maxConcurrency must be positive, got %d", c.Task.MaxConcurrency)
	}
	if c.Task.MaxDepth <= 0 {
		return fmt.Errorf("config: task.maxDepth must be positive, got %d", c.Task.MaxDepth)
	}
	switch c.Task.PythonToolMode {
	case "bash", "python", "both":
	default:
		return fmt.Errorf("config: invalid task.pythonToolMode %q", c.Task.PythonToolMode)
	}
	if c.Editor.Width <= 0 {
		return fmt.Errorf("config: editor.width must be positive, got %d", c.Editor.Width)
	}
	return nil
}
