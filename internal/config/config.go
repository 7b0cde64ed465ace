// Package config loads server configuration from the environment and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the server configuration
type Config struct {
	// DatabaseURL enables persisted rule definitions; empty runs with built-in rules only
	DatabaseURL      string        `mapstructure:"database_url"`
	Port             int           `mapstructure:"port"              validate:"required,min=1,max=65535"`
	LogLevel         string        `mapstructure:"log_level"         validate:"oneof=TRACE DEBUG INFO WARN WARNING ERROR FATAL trace debug info warn warning error fatal"`
	RuleTimeout      time.Duration `mapstructure:"rule_timeout"      validate:"min=0"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"   validate:"gt=0"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"  validate:"gt=0"`
	LoadDefaultRules bool          `mapstructure:"load_default_rules"`
}

// Load reads configuration from environment variables (DATABASE_URL, PORT,
// LOG_LEVEL, RULE_TIMEOUT, ...) and, when path is non-empty, from a config file.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database_url", "")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("rule_timeout", "2s")
	v.SetDefault("request_timeout", "60s")
	v.SetDefault("shutdown_timeout", "30s")
	v.SetDefault("load_default_rules", true)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
