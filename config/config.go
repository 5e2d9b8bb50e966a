// Package config loads the vstore configuration from a file, VSTORE_ environment
// variables and defaults, and builds the backend, record store and manager from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VSTORE_BACKEND_TYPE.
const EnvPrefix = "VSTORE"

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Hashing  HashingConfig  `mapstructure:"hashing"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" validate:"required"`
	JSON    bool   `mapstructure:"json"`
	NoColor bool   `mapstructure:"no_color"`
	// File enables rotated file output
	File string `mapstructure:"file"`
	// NoTerminal disables stdout output when File is set
	NoTerminal bool `mapstructure:"no_terminal"`
}

// BackendConfig selects the storage backend. Only the section matching Type is used.
type BackendConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=local cloud s3"`

	Local map[string]any `mapstructure:"local"`
	Cloud map[string]any `mapstructure:"cloud"`
	S3    map[string]any `mapstructure:"s3"`
}

// MetadataConfig selects the record store. Only the section matching Type is used.
type MetadataConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type" validate:"omitempty,oneof=memory sqlite postgres consul"`

	SQLite   map[string]any `mapstructure:"sqlite"`
	Postgres map[string]any `mapstructure:"postgres"`
	Consul   map[string]any `mapstructure:"consul"`
}

type TrackingConfig struct {
	AwaitRecording bool          `mapstructure:"await_recording"`
	SoftDelete     bool          `mapstructure:"soft_delete"`
	MergeStrategy  string        `mapstructure:"merge_strategy" validate:"omitempty,oneof=shallow deep"`
	RetryAttempts  int           `mapstructure:"retry_attempts" validate:"gte=1"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	QueueSize      int           `mapstructure:"queue_size" validate:"gte=0"`
}

type HashingConfig struct {
	Algorithm string `mapstructure:"algorithm" validate:"omitempty,oneof=xxh64 sha256 fnv1a"`
}

// Load reads the configuration. An empty configPath searches the default locations,
// a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("vstore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.no_color", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.no_terminal", false)

	v.SetDefault("backend.type", "local")
	v.SetDefault("backend.local.root", "./data")

	v.SetDefault("metadata.enabled", false)
	v.SetDefault("metadata.type", "sqlite")
	v.SetDefault("metadata.sqlite.path", "./vstore.db")

	v.SetDefault("tracking.await_recording", true)
	v.SetDefault("tracking.soft_delete", false)
	v.SetDefault("tracking.merge_strategy", "shallow")
	v.SetDefault("tracking.retry_attempts", 3)
	v.SetDefault("tracking.retry_delay", 50*time.Millisecond)
	v.SetDefault("tracking.queue_size", 128)

	v.SetDefault("hashing.algorithm", "xxh64")
}

// configDir is $XDG_CONFIG_HOME/vstore, falling back to ~/.config/vstore.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vstore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "vstore")
}
