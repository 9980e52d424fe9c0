package semlog

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Subject is the fan-out point of the observer pattern: it owns a named
// set of sinks and dispatches each emitted event to every sink that
// accepts it. In sync mode (the default) Event returns only after all
// deliveries complete; in async mode events are queued and a single
// background worker delivers them, so callers never block on a slow sink.
//
// A nil *Subject is safe to use; all methods are no-ops.
type Subject struct {
	mu        sync.RWMutex
	observers map[string]Sink
	queue     *eventQueue
	log       zerolog.Logger
}

// Config configures a Subject's sinks. Observers merges named sinks into
// the subject; ObserverList entries are auto-named by position starting
// at "1". Leaving both empty installs no sinks, which yields a subject
// whose Event calls are no-ops.
type Config struct {
	Observers    map[string]Sink
	ObserverList []Sink
}

type subjectOptions struct {
	async    bool
	capacity int
	log      zerolog.Logger
}

// SubjectOption configures a Subject at construction.
type SubjectOption func(*subjectOptions)

// WithAsync enables the async delivery pipeline: a bounded queue with a
// single background worker. The queue exists for the subject's entire
// lifetime; it is never recreated.
func WithAsync() SubjectOption {
	return func(o *subjectOptions) {
		o.async = true
	}
}

// WithQueueCapacity sets the async queue capacity (default MaxStored).
// Implies WithAsync.
func WithQueueCapacity(n int) SubjectOption {
	return func(o *subjectOptions) {
		o.async = true
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithLogger sets the diagnostics logger used for async delivery failures
// and queue overflow. The default is a no-op logger.
func WithLogger(log zerolog.Logger) SubjectOption {
	return func(o *subjectOptions) {
		o.log = log
	}
}

// NewSubject creates a subject with no sinks. Call Configure or
// SetSink to install sinks.
func NewSubject(opts ...SubjectOption) *Subject {
	o := subjectOptions{
		capacity: MaxStored,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Subject{
		observers: make(map[string]Sink),
		log:       o.log,
	}
	if o.async {
		s.queue = newEventQueue(o.capacity, o.log)
	}
	return s
}

// Configure merges the configured sinks into the subject. Named entries
// replace sinks of the same name; list entries are named by position.
func (s *Subject) Configure(cfg Config) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sink := range cfg.Observers {
		s.observers[name] = sink
	}
	for i, sink := range cfg.ObserverList {
		s.observers[strconv.Itoa(i+1)] = sink
	}
}

// SetSink installs or replaces a single named sink.
func (s *Subject) SetSink(name string, sink Sink) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[name] = sink
}

// Replace swaps the entire sink set and returns the old sinks. The caller
// is responsible for closing any returned sinks that hold resources.
// This enables configuration hot-reload without recreating the subject.
func (s *Subject) Replace(observers map[string]Sink) map[string]Sink {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.observers
	s.observers = make(map[string]Sink, len(observers))
	for name, sink := range observers {
		s.observers[name] = sink
	}
	return old
}

// Sink returns the named sink, nil if not installed.
func (s *Subject) Sink(name string) Sink {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observers[name]
}

// Event stamps an event with the current time, name, and severity code,
// then dispatches a private copy to every accepting sink. In sync mode it
// returns after all deliveries complete and reports the first delivery
// error; in async mode it enqueues and returns nil immediately, dropping
// the oldest queued entry if the queue is full.
func (s *Subject) Event(code, name string, fields map[string]any) error {
	if s == nil {
		return nil
	}
	return s.Dispatch(Stamp(code, name, fields))
}

// Dispatch fans out an already-stamped event without restamping its
// reserved fields. Relays and receivers use it to forward events they
// did not originate.
func (s *Subject) Dispatch(ev Event) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	sinks := make([]Sink, 0, len(s.observers))
	for _, sink := range s.observers {
		sinks = append(sinks, sink)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, sink := range sinks {
		if !sink.Accept(ev) {
			continue
		}
		cp := ev.Clone()
		if s.queue != nil {
			s.queue.push(sink, cp)
			continue
		}
		if err := sink.Deliver(cp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fatal emits an event with severity Fatal.
func (s *Subject) Fatal(name string, fields map[string]any) error {
	return s.Event("F", name, fields)
}

// Error emits an event with severity Error.
func (s *Subject) Error(name string, fields map[string]any) error {
	return s.Event("E", name, fields)
}

// Warning emits an event with severity Warning.
func (s *Subject) Warning(name string, fields map[string]any) error {
	return s.Event("W", name, fields)
}

// Info emits an event with severity Info.
func (s *Subject) Info(name string, fields map[string]any) error {
	return s.Event("I", name, fields)
}

// Debug emits an event with severity Debug.
func (s *Subject) Debug(name string, fields map[string]any) error {
	return s.Event("D", name, fields)
}

// Trace emits an event with severity Trace.
func (s *Subject) Trace(name string, fields map[string]any) error {
	return s.Event("T", name, fields)
}

// QueueLen returns the current async queue depth, 0 for sync subjects.
// The depth counts deliveries not yet completed.
func (s *Subject) QueueLen() int {
	if s == nil || s.queue == nil {
		return 0
	}
	return s.queue.len()
}

// Drain blocks until the async queue is empty or the timeout elapses,
// reporting whether it drained in time. It does not stop new events from
// refilling the queue concurrently. Sync subjects drain trivially.
func (s *Subject) Drain(timeout time.Duration) bool {
	if s == nil || s.queue == nil {
		return true
	}
	return s.queue.drain(timeout)
}

// Close stops the async worker after a final drain of accepted events.
// Sync subjects have nothing to stop. Safe to call multiple times; the
// subject must not be used after Close.
func (s *Subject) Close() {
	if s == nil || s.queue == nil {
		return
	}
	s.queue.close()
}
