// Package config loads stepscript settings from a YAML file, STEPSCRIPT_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment override, e.g.
	// STEPSCRIPT_LOGGER_LEVEL.
	EnvPrefix = "STEPSCRIPT"
	// FileName is the config file name searched for without extension.
	FileName = "stepscript"
)

// Config is the whole configuration tree.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Repair  RepairConfig  `mapstructure:"repair" yaml:"repair"`
	Assets  AssetsConfig  `mapstructure:"assets" yaml:"assets"`
	Audit   AuditConfig   `mapstructure:"audit" yaml:"audit"`
}

// LoggerConfig drives observability.NewLogger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	// Backend is "file" or "bolt".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// BoltPath is the database file used by the bolt backend.
	BoltPath string `mapstructure:"bolt_path" yaml:"bolt_path"`
}

// RepairConfig tunes the repair engine.
type RepairConfig struct {
	// Platform is stamped on fallback and new documents. Empty means the host.
	Platform string `mapstructure:"platform" yaml:"platform"`
}

// AssetsConfig locates reference images.
type AssetsConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
	// Check reports missing reference images as load warnings.
	Check bool `mapstructure:"check" yaml:"check"`
}

// AuditConfig controls the JSONL audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "stepscript")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.bolt_path", "stepscript.db")

	v.SetDefault("repair.platform", "")

	v.SetDefault("assets.root", ".")
	v.SetDefault("assets.check", true)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.path", "stepscript-audit.jsonl")
}

// NewDefaultConfig returns the configuration with only defaults applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := fromViper(v)
	if err != nil {
		// Defaults always decode.
		panic(err)
	}
	return cfg
}

// Load reads configuration. An explicit file must exist; otherwise
// stepscript.yaml is searched in the working directory and
// $HOME/.config/stepscript, and its absence is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot make safe.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}
	switch c.Storage.Backend {
	case "file":
	case "bolt":
		if c.Storage.BoltPath == "" {
			return errors.New("storage.bolt_path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"bolt\", got %q", c.Storage.Backend)
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return errors.New("audit.path is required when audit is enabled")
	}
	if c.Logger.LogFile != "" && c.Logger.MaxSize <= 0 {
		return errors.New("logger.max_size must be a positive integer")
	}
	return nil
}
