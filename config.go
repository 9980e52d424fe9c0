package semlog

import (
	"fmt"
	"os"
	"sync"
)

// SinkConfig describes one sink as plain data: a type tag plus
// parameters. It is the data-driven counterpart to constructing sinks in
// code, suitable for YAML unmarshaling; configuration is never evaluated
// as code.
type SinkConfig struct {
	Type     string `yaml:"type"`               // "stream", "syslog", "remote", ...
	Severity string `yaml:"severity,omitempty"` // letter code threshold; empty = Info
	Rank     *int   `yaml:"rank,omitempty"`     // raw integer threshold, overrides Severity
	Format   string `yaml:"format,omitempty"`   // text template; empty = structured
	Output   string `yaml:"output,omitempty"`   // stream: "stderr" (default), "stdout", or a file path
	Host     string `yaml:"host,omitempty"`     // remote: receiver host
	Port     int    `yaml:"port,omitempty"`     // remote: receiver port
	Mode     string `yaml:"mode,omitempty"`     // remote: wire mode
	Facility string `yaml:"facility,omitempty"` // syslog: facility name
	Tag      string `yaml:"tag,omitempty"`      // syslog: tag
}

// Threshold resolves the sink threshold from the config: an explicit
// integer rank wins over a letter code, and neither yields the default.
func (c SinkConfig) Threshold() (Severity, error) {
	if c.Rank != nil {
		return ClampRank(*c.Rank), nil
	}
	return ParseThreshold(c.Severity)
}

// SinkBuilder constructs a sink from its configuration.
type SinkBuilder func(cfg SinkConfig) (Sink, error)

// Registry maps sink type tags to builders. A new registry has "stream"
// preinstalled (plus "syslog" on platforms that support it); packages
// providing other sink types expose a SinkBuilder for callers to
// register explicitly.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]SinkBuilder
}

// NewRegistry returns a registry with the built-in sink types installed.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]SinkBuilder)}
	r.Register("stream", buildStreamSink)
	registerPlatformSinks(r)
	return r
}

// Register installs a builder for a type tag, replacing any existing one.
func (r *Registry) Register(tag string, b SinkBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[tag] = b
}

// Build constructs a sink from its configuration. An unregistered type
// tag is an error.
func (r *Registry) Build(cfg SinkConfig) (Sink, error) {
	r.mu.RLock()
	b, ok := r.builders[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("semlog: unknown sink type %q", cfg.Type)
	}
	return b(cfg)
}

// BuildAll constructs a named sink set. It fails on the first bad entry.
func (r *Registry) BuildAll(cfgs map[string]SinkConfig) (map[string]Sink, error) {
	sinks := make(map[string]Sink, len(cfgs))
	for name, cfg := range cfgs {
		sink, err := r.Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", name, err)
		}
		sinks[name] = sink
	}
	return sinks, nil
}

func buildStreamSink(cfg SinkConfig) (Sink, error) {
	threshold, err := cfg.Threshold()
	if err != nil {
		return nil, err
	}

	var w *os.File
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("semlog: opening sink output: %w", err)
		}
		w = f
	}

	opts := []StreamOption{WithStreamThreshold(threshold)}
	if cfg.Format != "" {
		opts = append(opts, WithTextFormat(cfg.Format))
	}
	return NewStreamSink(w, opts...), nil
}
