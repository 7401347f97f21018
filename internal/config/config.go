// Package config provides configuration structures and defaults for FlintKV.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MikhailWahib/flintkv/internal/durability"
	"github.com/MikhailWahib/flintkv/internal/kverr"
)

const (
	defaultLogFile    = "data.log"
	defaultDurability = "flush"
	defaultQueueSize  = 1024
	defaultListenAddr = "127.0.0.1:4000"
	defaultLogLevel   = "info"
)

// Config holds the store's durability, snapshot and serving parameters.
type Config struct {
	// Dir is the store directory holding the log, snapshots and manifest.
	Dir string `yaml:"dir"`
	// LogFile is the log's file name inside Dir.
	LogFile string `yaml:"log_file"`
	// Durability is "flush", "fsync-always" or "fsync-every:<n>".
	Durability string `yaml:"durability"`
	// MaxLogSize triggers an automatic snapshot once the log reaches it. 0 disables.
	MaxLogSize int64 `yaml:"max_log_size"`
	// QueueSize is the capacity of the coordinator's request queue.
	QueueSize int `yaml:"queue_size"`

	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	// ConnRateLimit caps commands per second on one connection. 0 disables.
	ConnRateLimit float64 `yaml:"conn_rate_limit"`
}

// DefaultConfig returns a Config struct populated with default values.
func DefaultConfig() *Config {
	return &Config{
		LogFile:    defaultLogFile,
		Durability: defaultDurability,
		QueueSize:  defaultQueueSize,
		ListenAddr: defaultListenAddr,
		LogLevel:   defaultLogLevel,
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.LogFile == "" {
		c.LogFile = def.LogFile
	}
	if c.Durability == "" {
		c.Durability = def.Durability
	}
	if c.QueueSize == 0 {
		c.QueueSize = def.QueueSize
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.DurabilityPolicy(); err != nil {
		return err
	}
	if c.MaxLogSize < 0 {
		return kverr.Invalid("max_log_size must not be negative")
	}
	if c.QueueSize < 0 {
		return kverr.Invalid("queue_size must not be negative")
	}
	if c.ConnRateLimit < 0 {
		return kverr.Invalid("conn_rate_limit must not be negative")
	}
	return nil
}

// DurabilityPolicy parses the configured durability mode.
func (c *Config) DurabilityPolicy() (*durability.Policy, error) {
	return durability.Parse(c.Durability)
}

// Load reads a YAML config file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
