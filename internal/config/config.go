// Package config handles loading, validating, and defaulting the semlog
// daemon configuration.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/semlog/semlog"
	"github.com/semlog/semlog/remote"
)

// Defaults for the listen daemon.
const (
	DefaultListen = "127.0.0.1:9000"
)

// NamedSink is one sink declaration: a unique name plus the sink's
// type-tagged parameters.
type NamedSink struct {
	Name              string `yaml:"name"`
	semlog.SinkConfig `yaml:",inline"`
}

// Config is the top-level semlog daemon configuration.
type Config struct {
	Listen  string      `yaml:"listen"`  // host:port to receive events on
	Mode    string      `yaml:"mode"`    // wire mode: json, cbor, text, legacy
	Metrics string      `yaml:"metrics"` // optional host:port for the /metrics endpoint
	Sinks   []NamedSink `yaml:"sinks"`   // local sinks received events are relayed to
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Mode == "" {
		c.Mode = string(remote.ModeJSON)
	}
}

// Validate checks addresses, the wire mode, and sink declarations.
// Sink parameters are only checked structurally here; the registry
// reports constructor-level problems when sinks are built.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if _, err := remote.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Metrics != "" {
		if _, _, err := net.SplitHostPort(c.Metrics); err != nil {
			return fmt.Errorf("invalid metrics address %q: %w", c.Metrics, err)
		}
	}

	seen := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink %d missing name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate sink name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Type == "" {
			return fmt.Errorf("sink %q missing type", s.Name)
		}
		if _, err := s.Threshold(); err != nil {
			return fmt.Errorf("sink %q: %w", s.Name, err)
		}
	}
	return nil
}

// SinkConfigs returns the sink declarations as the name-keyed map the
// registry consumes.
func (c *Config) SinkConfigs() map[string]semlog.SinkConfig {
	cfgs := make(map[string]semlog.SinkConfig, len(c.Sinks))
	for _, s := range c.Sinks {
		cfgs[s.Name] = s.SinkConfig
	}
	return cfgs
}
