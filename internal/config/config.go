// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbus-cli/client"
	"github.com/ffutop/modbus-cli/transport"
)

// EnvPrefix prefixes environment overrides, e.g. MODBUS_CLI_SERVER_HOST.
const EnvPrefix = "MODBUS_CLI"

// Config defines the global configuration structure
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Prompt bool         `mapstructure:"prompt" yaml:"prompt"` // ask for host and port interactively
}

// ServerConfig defines the Modbus TCP server to talk to
type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	UnitID         int           `mapstructure:"unit_id" yaml:"unit_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"` // per connect attempt
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"` // connect attempts
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Backoff        string        `mapstructure:"backoff" yaml:"backoff"` // fixed, exponential
	MaxRetryDelay  time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
	ReadRetries    int           `mapstructure:"read_retries" yaml:"read_retries"` // reads retried after a timeout
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
	File  string `mapstructure:"file" yaml:"file"`   // Log file path
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"host":        "server.host",
	"port":        "server.port",
	"unit":        "server.unit_id",
	"retries":     "server.max_retries",
	"retry-delay": "server.retry_delay",
	"backoff":     "server.backoff",
	"timeout":     "server.request_timeout",
	"log-level":   "log.level",
	"log-file":    "log.file",
}

// New returns a viper instance carrying the defaults and environment
// overrides.
func New() *viper.Viper {
	v := viper.New()
	def := client.DefaultConfig()

	v.SetDefault("server.host", def.Host)
	v.SetDefault("server.port", client.DefaultTestPort)
	v.SetDefault("server.unit_id", int(def.UnitID))
	v.SetDefault("server.connect_timeout", def.ConnectTimeout)
	v.SetDefault("server.request_timeout", def.RequestTimeout)
	v.SetDefault("server.max_retries", def.MaxRetries)
	v.SetDefault("server.retry_delay", def.RetryDelay)
	v.SetDefault("server.backoff", "fixed")
	v.SetDefault("server.max_retry_delay", 30*time.Second)
	v.SetDefault("server.read_retries", 0)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("prompt", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the command line flags present in fs to their keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	if f := fs.Lookup("no-prompt"); f != nil && f.Changed {
		v.Set("prompt", false)
	}
	return nil
}

// LoadConfig loads configuration from file. A missing default config file is
// not an error; a missing explicit one is.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("modbus-cli")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-cli/")
		v.AddConfigPath("$HOME/.modbus-cli")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Server.Backoff = strings.ToLower(strings.TrimSpace(config.Server.Backoff))
	config.Log.Level = strings.ToLower(config.Log.Level)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the client would refuse later.
func (c *Config) Validate() error {
	s := c.Server
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port %d must be between 1 and 65535", s.Port)
	}
	if s.UnitID < 1 || s.UnitID > 247 {
		return fmt.Errorf("server.unit_id %d must be between 1 and 247", s.UnitID)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("server.max_retries must be at least 1, got %d", s.MaxRetries)
	}
	if s.ReadRetries < 0 {
		return fmt.Errorf("server.read_retries must not be negative, got %d", s.ReadRetries)
	}
	if s.ConnectTimeout <= 0 || s.RequestTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if s.RetryDelay < 0 || s.MaxRetryDelay < 0 {
		return fmt.Errorf("server retry delays must not be negative")
	}
	if _, err := transport.ParseBackoff(s.Backoff, s.RetryDelay, s.MaxRetryDelay); err != nil {
		return fmt.Errorf("server.backoff: %w", err)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ClientConfig converts the server section for the client package.
func (c *Config) ClientConfig() (client.Config, error) {
	s := c.Server
	backoff, err := transport.ParseBackoff(s.Backoff, s.RetryDelay, s.MaxRetryDelay)
	if err != nil {
		return client.Config{}, err
	}
	return client.Config{
		Host:           s.Host,
		Port:           s.Port,
		UnitID:         byte(s.UnitID),
		ConnectTimeout: s.ConnectTimeout,
		RequestTimeout: s.RequestTimeout,
		MaxRetries:     s.MaxRetries,
		RetryDelay:     s.RetryDelay,
		Backoff:        backoff,
		ReadRetries:    s.ReadRetries,
	}, nil
}

// Dump writes the effective configuration as YAML.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
