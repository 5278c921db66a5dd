// Package config handles configuration loading for the constellation server
// and device agent. It supports XDG config paths, project-level overrides,
// and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the constellation tools.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic" yaml:"anthropic"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Device       DeviceConfig       `mapstructure:"device" yaml:"device"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Archive      ArchiveConfig      `mapstructure:"archive" yaml:"archive"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// AnthropicConfig holds planning-oracle API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
	Model         string `mapstructure:"model" yaml:"model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock" yaml:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// ServerConfig holds the dispatch server settings.
type ServerConfig struct {
	// ListenAddr is the TCP address devices connect to.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// MetricsAddr serves Prometheus metrics; empty disables the endpoint.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	// ReadTimeout bounds one silent interval on a device channel.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// DeviceConfig holds the device-agent settings.
type DeviceConfig struct {
	// ServerAddr is the dispatch server address to connect to.
	ServerAddr string `mapstructure:"server_addr" yaml:"server_addr"`
	// ReceiveTimeout is the silence interval after which the agent sends a
	// heartbeat instead of assuming failure.
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" yaml:"receive_timeout"`
	// MaxRetries bounds reconnect attempts with exponential backoff.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// Features lists the capabilities this device advertises.
	Features []string `mapstructure:"features" yaml:"features"`
}

// OrchestratorConfig holds graph-execution settings.
type OrchestratorConfig struct {
	// MaxTaskRetries bounds per-task redispatch after failure or device loss.
	MaxTaskRetries int `mapstructure:"max_task_retries" yaml:"max_task_retries"`
	// TracePath is the per-run trace log file; empty disables tracing.
	TracePath string `mapstructure:"trace_path" yaml:"trace_path"`
}

// ArchiveConfig holds the constellation archive settings.
type ArchiveConfig struct {
	// DBPath is the SQLite archive database path. Empty uses the XDG default.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LoggingConfig holds structured-logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables. Precedence (highest to lowest):
// 1. Environment variables (CONSTELLATION_*, ANTHROPIC_API_KEY)
// 2. Project config (.constellation.yaml in current directory or parent)
// 3. User config (~/.config/constellation/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONSTELLATION")
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("server.listen_addr", "CONSTELLATION_LISTEN_ADDR")
	v.BindEnv("device.server_addr", "CONSTELLATION_SERVER_ADDR")
	v.BindEnv("archive.db_path", "CONSTELLATION_ARCHIVE_DB")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("server.listen_addr", ":7420")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("server.read_timeout", "5m")

	v.SetDefault("device.server_addr", "127.0.0.1:7420")
	v.SetDefault("device.receive_timeout", "120s")
	v.SetDefault("device.max_retries", 5)
	v.SetDefault("device.features", []string{})

	v.SetDefault("orchestrator.max_task_retries", 1)
	v.SetDefault("orchestrator.trace_path", "")

	v.SetDefault("archive.db_path", "")

	v.SetDefault("logging.level", "info")
}

// getUserConfigDir returns the XDG config directory.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "constellation")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "constellation")
	}
	return filepath.Join(home, ".config", "constellation")
}

// findProjectConfig searches for .constellation.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".constellation.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":7420",
			ReadTimeout: 5 * time.Minute,
		},
		Device: DeviceConfig{
			ServerAddr:     "127.0.0.1:7420",
			ReceiveTimeout: 120 * time.Second,
			MaxRetries:     5,
		},
		Orchestrator: OrchestratorConfig{
			MaxTaskRetries: 1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
