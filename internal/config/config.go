// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package config loads and validates the Keepsake configuration from a
// YAML file with environment overrides.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

// Config is the top-level Keepsake configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

// ServerConfig controls how Keepsake listens for requests.
type ServerConfig struct {
	Listen       string   `mapstructure:"listen"`
	SharedSecret string   `mapstructure:"shared_secret"`
	AllowedCIDRs []string `mapstructure:"allowed_cidrs"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// EmbeddingConfig holds credentials and model selection for the
// embedding provider.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// GenerationConfig holds credentials and model selection for the
// summarization provider.
type GenerationConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// ProviderConfig tunes the retry and circuit-breaker policy shared by
// both provider paths.
type ProviderConfig struct {
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	CacheMaxBytes    int64         `mapstructure:"cache_max_bytes"`
}

// RetentionConfig controls the background sweep.
type RetentionConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix KEEPSAKE_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, keeperr.Errorf(keeperr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a prepared Viper instance. Callers
// that resolve secrets post-load go through this entry point.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// SetDefaults registers the default value for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8642")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "keepsake.db")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("generation.model", "claude-haiku-4-5")
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("provider.breaker_threshold", 5)
	v.SetDefault("provider.breaker_cooldown", 30*time.Second)
	v.SetDefault("provider.retry_attempts", 3)
	v.SetDefault("provider.retry_base_delay", 200*time.Millisecond)
	v.SetDefault("provider.retry_max_delay", 5*time.Second)
	v.SetDefault("provider.call_timeout", 30*time.Second)
	v.SetDefault("provider.cache_max_bytes", int64(64<<20))
	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.concurrency", 4)
}

// SetupEnv enables KEEPSAKE_-prefixed environment overrides, with dots
// in key paths mapped to underscores.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("KEEPSAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate checks the configuration for logical errors, collecting all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateProvider()...)
	errs = append(errs, c.validateRetention()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
	} else {
		_, portStr, err := net.SplitHostPort(c.Server.Listen)
		if err != nil {
			errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
				"config: server.listen must be a valid host:port address, got %q: %w",
				c.Server.Listen, err,
			))
		} else {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
					"config: server.listen port must be a number, got %q",
					portStr,
				))
			} else if port < 0 || port > 65535 {
				errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
					"config: server.listen port must be between 0 and 65535, got %d",
					port,
				))
			}
		}
	}

	if c.Server.SharedSecret == "" {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: server.shared_secret must not be empty"))
	}

	for i, cidr := range c.Server.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
				"config: server.allowed_cidrs[%d] must be a valid CIDR, got %q",
				i, cidr,
			))
		}
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Path == "" {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty"))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Embedding.Model == "" {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: embedding.model must not be empty"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: embedding.dimensions must be greater than 0, got %d",
			c.Embedding.Dimensions,
		))
	}

	if c.Generation.Model == "" {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: generation.model must not be empty"))
	}
	if c.Generation.MaxTokens <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: generation.max_tokens must be greater than 0, got %d",
			c.Generation.MaxTokens,
		))
	}

	return errs
}

func (c *Config) validateProvider() []error {
	var errs []error

	if c.Provider.BreakerThreshold <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: provider.breaker_threshold must be greater than 0, got %d",
			c.Provider.BreakerThreshold,
		))
	}
	if c.Provider.BreakerCooldown <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: provider.breaker_cooldown must be greater than 0, got %s",
			c.Provider.BreakerCooldown,
		))
	}
	if c.Provider.RetryAttempts <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: provider.retry_attempts must be greater than 0, got %d",
			c.Provider.RetryAttempts,
		))
	}
	if c.Provider.CallTimeout <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: provider.call_timeout must be greater than 0, got %s",
			c.Provider.CallTimeout,
		))
	}

	return errs
}

func (c *Config) validateRetention() []error {
	var errs []error

	if c.Retention.Interval <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: retention.interval must be greater than 0, got %s",
			c.Retention.Interval,
		))
	}
	if c.Retention.Concurrency <= 0 {
		errs = append(errs, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"config: retention.concurrency must be greater than 0, got %d",
			c.Retention.Concurrency,
		))
	}

	return errs
}
