// Package config loads the server core's startup configuration using
// Viper, following the same defaults-then-file-then-env layering as
// internal/infrastructure/config, re-targeted at PortDescriptor/Host
// definitions instead of app/db/aws sections.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the whole of a kvarn process's startup configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Ports   []PortConfig  `mapstructure:"ports"`
	Hosts   []HostConfig  `mapstructure:"hosts"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig carries process-identity fields.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// PortConfig mirrors the external PortDescriptor: a bound port, an
// optional TLS toggle, and the list of host names served on it.
type PortConfig struct {
	Port  int      `mapstructure:"port"`
	TLS   bool     `mapstructure:"tls"`
	Hosts []string `mapstructure:"hosts"`
}

// HostConfig describes one virtual host.
type HostConfig struct {
	Name              string `mapstructure:"name"`
	Path              string `mapstructure:"path"`
	CertFile          string `mapstructure:"cert_file"`
	KeyFile           string `mapstructure:"key_file"`
	FolderDefault     string `mapstructure:"folder_default"`
	ExtensionDefault  string `mapstructure:"extension_default"`
	HTTPSRedirect     bool   `mapstructure:"https_redirect"`
	HSTS              bool   `mapstructure:"hsts"`
	FileCacheMax      int    `mapstructure:"file_cache_max_items"`
	FileCacheSize     int64  `mapstructure:"file_cache_max_size"`
	ResponseCacheMax  int    `mapstructure:"response_cache_max_items"`
	ResponseCacheSize int64  `mapstructure:"response_cache_max_size"`
}

// LimitsConfig configures the optional rate-limiter collaborator adapter.
type LimitsConfig struct {
	Enable          bool          `mapstructure:"enable"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from configPath (if non-empty), layering
// defaults, file, and KVARN_-prefixed environment variables, in that order
// of increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("kvarn")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kvarn")
	}

	v.SetEnvPrefix("KVARN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kvarn")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("limits.enable", false)
	v.SetDefault("limits.requests_per_sec", 50.0)
	v.SetDefault("limits.burst", 100)
	v.SetDefault("limits.cleanup_interval", "1m")
}

// Validate checks the parts of the configuration that must hold before any
// listener is bound.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port must be configured")
	}
	seen := map[string]bool{}
	for _, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("host name must not be empty")
		}
		if seen[h.Name] {
			return fmt.Errorf("duplicate host name %q", h.Name)
		}
		seen[h.Name] = true
	}
	for _, p := range c.Ports {
		if p.Port < 1 || p.Port > 65535 {
			return fmt.Errorf("port %d out of range", p.Port)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool  { return c.App.Environment == "production" }
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }
