// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbus-cli/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modbus-cli.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// loadDefaults reads from an empty directory so no real config file is found.
func loadDefaults(t *testing.T, fs *pflag.FlagSet) *Config {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	v := New()
	if fs != nil {
		if err := BindFlags(v, fs); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := LoadConfig(v, "")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadDefaults(t, nil)
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 5020 || cfg.Server.UnitID != 1 {
		t.Errorf("Unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Server.MaxRetries != 5 || cfg.Server.RetryDelay != 2*time.Second || cfg.Server.RequestTimeout != time.Second {
		t.Errorf("Unexpected retry defaults %+v", cfg.Server)
	}
	if cfg.Log.Level != "warn" || !cfg.Prompt {
		t.Errorf("Unexpected defaults log=%+v prompt=%v", cfg.Log, cfg.Prompt)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "192.168.1.100"
  port: 502
  unit_id: 17
  request_timeout: "250ms"
  backoff: "Exponential"
  max_retry_delay: "10s"
log:
  level: "DEBUG"
prompt: false
`)
	cfg, err := LoadConfig(New(), path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Host != "192.168.1.100" || cfg.Server.Port != 502 || cfg.Server.UnitID != 17 {
		t.Errorf("Unexpected server %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.Backoff != "exponential" || cfg.Log.Level != "debug" || cfg.Prompt {
		t.Errorf("Unexpected normalisation %+v", cfg)
	}
	// untouched keys keep their defaults
	if cfg.Server.MaxRetries != 5 {
		t.Errorf("Expected default max_retries, got %d", cfg.Server.MaxRetries)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(New(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("MODBUS_CLI_SERVER_HOST", "10.0.0.5")
	t.Setenv("MODBUS_CLI_SERVER_PORT", "1502")
	t.Setenv("MODBUS_CLI_LOG_LEVEL", "info")
	cfg := loadDefaults(t, nil)
	if cfg.Server.Host != "10.0.0.5" || cfg.Server.Port != 1502 || cfg.Log.Level != "info" {
		t.Errorf("Environment not applied: %+v", cfg)
	}
}

func TestBindFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("host", "H", "", "")
	fs.IntP("port", "p", 0, "")
	fs.IntP("unit", "u", 0, "")
	fs.Duration("timeout", 0, "")
	fs.Bool("no-prompt", false, "")
	if err := fs.Parse([]string{"-H", "127.0.0.1", "--port", "502", "--timeout", "3s", "--no-prompt"}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODBUS_CLI_SERVER_PORT", "1502")

	cfg := loadDefaults(t, fs)
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 502 {
		t.Errorf("Flags must win over environment: %+v", cfg.Server)
	}
	if cfg.Server.UnitID != 1 {
		t.Errorf("Unset flag must not override default, got unit %d", cfg.Server.UnitID)
	}
	if cfg.Server.RequestTimeout != 3*time.Second || cfg.Prompt {
		t.Errorf("Unexpected timeout %v prompt %v", cfg.Server.RequestTimeout, cfg.Prompt)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"unit low", func(c *Config) { c.Server.UnitID = 0 }},
		{"unit high", func(c *Config) { c.Server.UnitID = 248 }},
		{"retries", func(c *Config) { c.Server.MaxRetries = 0 }},
		{"read retries", func(c *Config) { c.Server.ReadRetries = -1 }},
		{"timeout", func(c *Config) { c.Server.RequestTimeout = 0 }},
		{"backoff", func(c *Config) { c.Server.Backoff = "linear" }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadDefaults(t, nil)
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Defaults must validate: %v", err)
			}
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg := loadDefaults(t, nil)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.UnitID = 9
	cfg.Server.ReadRetries = 2
	cfg.Server.Backoff = "exponential"

	cc, err := cfg.ClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	if err := cc.Validate(); err != nil {
		t.Fatalf("Converted config invalid: %v", err)
	}
	if cc.Address() != "127.0.0.1:5020" || cc.UnitID != 9 || cc.ReadRetries != 2 {
		t.Errorf("Unexpected client config %+v", cc)
	}
	if _, ok := cc.Backoff.(transport.ExponentialBackoff); !ok {
		t.Errorf("Expected exponential backoff, got %T", cc.Backoff)
	}
}

func TestDump(t *testing.T) {
	cfg := loadDefaults(t, nil)
	var buf bytes.Buffer
	if err := Dump(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"server:", "port: 5020", "unit_id: 1", "level: warn", "prompt: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump output missing %q:\n%s", want, out)
		}
	}

	var back Config
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("Dump output is not valid YAML: %v", err)
	}
	if back.Server.Port != cfg.Server.Port || back.Server.RetryDelay != cfg.Server.RetryDelay {
		t.Errorf("Dump lost values: %+v", back.Server)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
