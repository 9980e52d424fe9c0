package semlog

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// StreamSink writes events to an io.Writer, one record per line. The
// default rendering is a JSON object; configuring a text format switches
// to template rendering. The destination is flushed after every event
// when it supports flushing, so records are never buffered across events.
type StreamSink struct {
	SeverityFilter
	mu        sync.Mutex
	w         io.Writer
	formatter *TextFormatter
}

// StreamOption configures a StreamSink.
type StreamOption func(*StreamSink)

// WithStreamThreshold sets the sink's severity threshold.
func WithStreamThreshold(t Severity) StreamOption {
	return func(s *StreamSink) {
		s.Threshold = t
	}
}

// WithTextFormat switches the sink from JSON to text rendering using the
// given "{field}" template.
func WithTextFormat(template string) StreamOption {
	return func(s *StreamSink) {
		s.formatter = NewTextFormatter(template)
	}
}

// NewStreamSink creates a sink writing to w. A nil writer defaults to
// stderr. The threshold defaults to Info.
func NewStreamSink(w io.Writer, opts ...StreamOption) *StreamSink {
	if w == nil {
		w = os.Stderr
	}
	s := &StreamSink{
		SeverityFilter: SeverityFilter{Threshold: DefaultThreshold},
		w:              w,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver renders the event and writes it followed by the record
// separator, then flushes.
func (s *StreamSink) Deliver(ev Event) error {
	var line []byte
	if s.formatter != nil {
		text, err := s.formatter.Format(ev)
		if err != nil {
			return err
		}
		line = []byte(text)
	} else {
		var err error
		line, err = json.Marshal(ev)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, RecSep...)); err != nil {
		return err
	}
	if f, ok := s.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
