package semlog

import (
	"sync"
	"time"
)

// TimerEvent is the event name Timer emits after each measured call.
const TimerEvent = "time_fn"

// Timer measures function executions and emits a TimerEvent per call
// carrying the call duration and running aggregates: funcname, ncalls,
// sec, total_sec, avg_sec. Safe for concurrent use.
type Timer struct {
	subject  *Subject
	funcname string
	now      func() time.Time

	mu     sync.Mutex
	ncalls int
	total  time.Duration
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) TimerOption {
	return func(t *Timer) {
		t.now = now
	}
}

// NewTimer creates a timer that reports measurements for funcname as
// Info events on the subject.
func NewTimer(s *Subject, funcname string, opts ...TimerOption) *Timer {
	t := &Timer{
		subject:  s,
		funcname: funcname,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Time runs fn, emits the timing event, and returns fn's error. The
// event is emitted even when fn fails.
func (t *Timer) Time(fn func() error) error {
	start := t.now()
	err := fn()
	dur := t.now().Sub(start)

	t.mu.Lock()
	t.ncalls++
	t.total += dur
	fields := map[string]any{
		"funcname":  t.funcname,
		"ncalls":    t.ncalls,
		"sec":       dur.Seconds(),
		"total_sec": t.total.Seconds(),
		"avg_sec":   t.total.Seconds() / float64(t.ncalls),
	}
	t.mu.Unlock()

	_ = t.subject.Info(TimerEvent, fields)
	return err
}
