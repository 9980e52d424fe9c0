package remote

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/semlog/semlog"
)

// DefaultTextFormat renders events pushed in text mode when no template
// is configured.
const DefaultTextFormat = "{level} {isotime} {event}: {kvp}"

const defaultDialTimeout = 5 * time.Second

// Sink pushes events to a remote Server over one persistent connection
// established at construction and held until Close. Delivery is
// fire-and-forget: no acknowledgment is awaited, and the receiver never
// reports failures back. Send errors surface to the caller. Sinks in the
// same process targeting the same address share a single connection.
type Sink struct {
	semlog.SeverityFilter
	mode      Mode
	formatter *semlog.TextFormatter
	conn      *sharedConn

	closeOnce sync.Once
	closeErr  error
}

type sinkOptions struct {
	mode        Mode
	format      string
	threshold   semlog.Severity
	dialTimeout time.Duration
}

// SinkOption configures a Sink.
type SinkOption func(*sinkOptions)

// WithMode selects the wire encoding (default ModeJSON).
func WithMode(m Mode) SinkOption {
	return func(o *sinkOptions) {
		o.mode = m
	}
}

// WithTextFormat switches the sink to text mode using the given template.
func WithTextFormat(template string) SinkOption {
	return func(o *sinkOptions) {
		o.mode = ModeText
		o.format = template
	}
}

// WithThreshold sets the sink's severity threshold (default Info).
func WithThreshold(t semlog.Severity) SinkOption {
	return func(o *sinkOptions) {
		o.threshold = t
	}
}

// WithDialTimeout bounds connection establishment (default 5s).
func WithDialTimeout(d time.Duration) SinkOption {
	return func(o *sinkOptions) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// NewSink connects to the receiver at host:port. A zero or negative port
// selects DefaultPort. The connection is established immediately;
// failure to connect is a construction error, not a delivery error.
func NewSink(host string, port int, opts ...SinkOption) (*Sink, error) {
	o := sinkOptions{
		mode:        ModeJSON,
		threshold:   semlog.DefaultThreshold,
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if port <= 0 {
		port = DefaultPort
	}

	s := &Sink{
		SeverityFilter: semlog.SeverityFilter{Threshold: o.threshold},
		mode:           o.mode,
	}
	if o.mode == ModeText {
		if o.format == "" {
			o.format = DefaultTextFormat
		}
		s.formatter = semlog.NewTextFormatter(o.format)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.dialTimeout)
	defer cancel()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := conns.acquire(ctx, addr, o.mode != ModeLegacy)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return s, nil
}

// Deliver encodes the event and writes it as one discrete message.
func (s *Sink) Deliver(ev semlog.Event) error {
	payload, op, err := encode(s.mode, s.formatter, ev)
	if err != nil {
		return err
	}
	return s.conn.send(op, payload)
}

// Close releases the sink's reference on the shared connection, closing
// it when this was the last sink using it. Safe to call multiple times.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = conns.release(s.conn)
	})
	return s.closeErr
}

// SinkBuilder adapts remote sink construction to the semlog sink
// registry, so "remote" sinks can be declared in configuration data.
func SinkBuilder(cfg semlog.SinkConfig) (semlog.Sink, error) {
	threshold, err := cfg.Threshold()
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	opts := []SinkOption{WithThreshold(threshold), WithMode(mode)}
	if cfg.Format != "" {
		opts = append(opts, WithTextFormat(cfg.Format))
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return NewSink(host, cfg.Port, opts...)
}
