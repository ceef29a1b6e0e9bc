// Package config handles configuration loading and management.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ble-mcp-test/bridge/pkg/bridgefront"
	"github.com/ble-mcp-test/bridge/pkg/logger"
	"github.com/ble-mcp-test/bridge/pkg/observability"
	"github.com/ble-mcp-test/bridge/pkg/session"
	"github.com/ble-mcp-test/bridge/pkg/sessionmgr"
	"github.com/ble-mcp-test/bridge/pkg/uuidnorm"
)

// Default config file locations.
var configPaths = []string{
	"./blebridge.yaml",
	"./blebridge.yml",
	"~/.config/blebridge/config.yaml",
	"/etc/blebridge/config.yaml",
}

// Config is the full configuration surface of §6: session timers and
// backoff, upgrade/handshake behavior, observability, and logging.
type Config struct {
	GracePeriodSec     int   `yaml:"grace_period_sec" validate:"min=1"`
	IdleTimeoutSec     int   `yaml:"idle_timeout_sec" validate:"min=1"`
	ScanTimeoutMs      int   `yaml:"scan_timeout_ms" validate:"min=1"`
	HandshakeTimeoutMs int   `yaml:"handshake_timeout_ms" validate:"min=1"`
	WriteQueueDepth    int   `yaml:"write_queue_depth" validate:"min=1"`
	RetryBackoffMs     []int `yaml:"retry_backoff_ms"`
	MaxRetries         int   `yaml:"max_retries" validate:"min=0"`
	RingCapacity       int   `yaml:"ring_capacity" validate:"min=1"`

	LogBufferSize int    `yaml:"log_buffer_size" validate:"min=100,max=1000000"`
	AdminToken    string `yaml:"admin_token"`

	WSHost             string `yaml:"ws_host"`
	WSPort             int    `yaml:"ws_port" validate:"min=1,max=65535"`
	WSPath             string `yaml:"ws_path"`
	ObservabilityHost  string `yaml:"observability_host"`
	ObservabilityPort  int    `yaml:"observability_port" validate:"min=1,max=65535"`
	UUIDStyle          string `yaml:"uuid_style" validate:"omitempty,oneof=short full"`
	SweepIntervalSec   int    `yaml:"sweep_interval_sec" validate:"min=1"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig mirrors pkg/logger.Config with validator tags and YAML keys.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout file"`
	File   string `yaml:"file"`
}

// Load loads configuration from path, or the first default search path
// that exists, or a built-in default if neither is found.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if len(p) > 0 && p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return DefaultConfig(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := *DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns the defaults named throughout spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		GracePeriodSec:     60,
		IdleTimeoutSec:     300,
		ScanTimeoutMs:      15000,
		HandshakeTimeoutMs: 10000,
		WriteQueueDepth:    5,
		RetryBackoffMs:     []int{500, 1500, 5000},
		MaxRetries:         3,
		RingCapacity:       65536,
		LogBufferSize:      10000,
		WSHost:             "0.0.0.0",
		WSPort:             8080,
		WSPath:             "/ws",
		ObservabilityHost:  "0.0.0.0",
		ObservabilityPort:  9090,
		UUIDStyle:          "short",
		SweepIntervalSec:   30,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

func (c *Config) uuidStyle() uuidnorm.Style {
	if c.UUIDStyle == "full" {
		return uuidnorm.StyleFull
	}
	return uuidnorm.StyleShort
}

func (c *Config) retryBackoff() []time.Duration {
	out := make([]time.Duration, len(c.RetryBackoffMs))
	for i, ms := range c.RetryBackoffMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// SessionDefaults converts this configuration into the per-session config
// template the manager stamps onto every new session.
func (c *Config) SessionDefaults() session.Config {
	return session.Config{
		UUIDStyle:       c.uuidStyle(),
		GracePeriod:     time.Duration(c.GracePeriodSec) * time.Second,
		IdleTimeout:     time.Duration(c.IdleTimeoutSec) * time.Second,
		ScanTimeout:     time.Duration(c.ScanTimeoutMs) * time.Millisecond,
		WriteQueueDepth: c.WriteQueueDepth,
		RetryBackoff:    c.retryBackoff(),
		MaxRetries:      c.MaxRetries,
		RingCapacity:    c.RingCapacity,
	}
}

// ManagerConfig converts this configuration into sessionmgr.Config.
// logSink, typically the server's *observability.LogRing, is threaded
// onto every session the manager creates so /debug/log sees live traffic;
// nil is a valid no-op sink.
func (c *Config) ManagerConfig(logSink session.LogSink) sessionmgr.Config {
	return sessionmgr.Config{
		SessionDefaults: c.SessionDefaults(),
		SweepInterval:   time.Duration(c.SweepIntervalSec) * time.Second,
		LogSink:         logSink,
	}
}

// FrontendConfig converts this configuration into bridgefront.Config.
func (c *Config) FrontendConfig() bridgefront.Config {
	return bridgefront.Config{
		Host:             c.WSHost,
		Port:             c.WSPort,
		Path:             c.WSPath,
		HandshakeTimeout: time.Duration(c.HandshakeTimeoutMs) * time.Millisecond,
		UUIDStyle:        c.uuidStyle(),
	}
}

// ObservabilityConfig converts this configuration into observability.Config.
func (c *Config) ObservabilityConfig() observability.Config {
	return observability.Config{
		Host:       c.ObservabilityHost,
		Port:       c.ObservabilityPort,
		AdminToken: c.AdminToken,
	}
}

// LoggerConfig converts this configuration into logger.Config.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
		File:   c.Logging.File,
	}
}
