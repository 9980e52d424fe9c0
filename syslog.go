//go:build !windows

package semlog

import (
	"fmt"
	"log/syslog"
	"strings"
	"sync"
)

// DefaultSyslogFormat is the text template syslog events are rendered
// with when none is configured.
const DefaultSyslogFormat = "{isotime} {kvp}"

// SyslogSink forwards events to the local syslog daemon, mapping event
// severity to syslog priority.
type SyslogSink struct {
	SeverityFilter
	mu        sync.Mutex
	w         *syslog.Writer
	formatter *TextFormatter
}

type syslogOptions struct {
	facility  syslog.Priority
	tag       string
	threshold Severity
	format    string
}

// SyslogOption configures a SyslogSink.
type SyslogOption func(*syslogOptions)

// WithSyslogFacility sets the syslog facility (default LOG_USER).
func WithSyslogFacility(f syslog.Priority) SyslogOption {
	return func(o *syslogOptions) {
		o.facility = f
	}
}

// WithSyslogTag sets the syslog tag (default "semlog").
func WithSyslogTag(tag string) SyslogOption {
	return func(o *syslogOptions) {
		o.tag = tag
	}
}

// WithSyslogThreshold sets the sink's severity threshold.
func WithSyslogThreshold(t Severity) SyslogOption {
	return func(o *syslogOptions) {
		o.threshold = t
	}
}

// WithSyslogFormat sets the text template (default DefaultSyslogFormat).
func WithSyslogFormat(template string) SyslogOption {
	return func(o *syslogOptions) {
		o.format = template
	}
}

// NewSyslogSink opens a connection to the local syslog daemon.
func NewSyslogSink(opts ...SyslogOption) (*SyslogSink, error) {
	o := syslogOptions{
		facility:  syslog.LOG_USER,
		tag:       "semlog",
		threshold: DefaultThreshold,
		format:    DefaultSyslogFormat,
	}
	for _, opt := range opts {
		opt(&o)
	}
	w, err := syslog.New(o.facility, o.tag)
	if err != nil {
		return nil, fmt.Errorf("semlog: opening syslog: %w", err)
	}
	return &SyslogSink{
		SeverityFilter: SeverityFilter{Threshold: o.threshold},
		w:              w,
		formatter:      NewTextFormatter(o.format),
	}, nil
}

// Deliver renders the event and writes it at the priority matching its
// severity. Unknown severities log at notice.
func (s *SyslogSink) Deliver(ev Event) error {
	sev := ev.Severity()
	msg, err := s.formatter.Format(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch sev {
	case Fatal:
		return s.w.Crit(msg)
	case Error:
		return s.w.Err(msg)
	case Warning:
		return s.w.Warning(msg)
	case Info:
		return s.w.Info(msg)
	case Debug, Trace:
		return s.w.Debug(msg)
	default:
		return s.w.Notice(msg)
	}
}

// Close releases the syslog connection.
func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

var syslogFacilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"daemon": syslog.LOG_DAEMON,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

func registerPlatformSinks(r *Registry) {
	r.Register("syslog", buildSyslogSink)
}

func buildSyslogSink(cfg SinkConfig) (Sink, error) {
	threshold, err := cfg.Threshold()
	if err != nil {
		return nil, err
	}
	opts := []SyslogOption{WithSyslogThreshold(threshold)}
	if cfg.Facility != "" {
		f, ok := syslogFacilities[strings.ToLower(cfg.Facility)]
		if !ok {
			return nil, fmt.Errorf("semlog: unknown syslog facility %q", cfg.Facility)
		}
		opts = append(opts, WithSyslogFacility(f))
	}
	if cfg.Tag != "" {
		opts = append(opts, WithSyslogTag(cfg.Tag))
	}
	if cfg.Format != "" {
		opts = append(opts, WithSyslogFormat(cfg.Format))
	}
	return NewSyslogSink(opts...)
}
