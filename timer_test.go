package semlog

import (
	"errors"
	"testing"
	"time"
)

func TestTimerEmitsPerCall(t *testing.T) {
	sink := newMockSink(Info)
	s := NewSubject()
	s.SetSink("out", sink)

	// Fixed clock advancing 100ms per reading.
	now := time.Unix(1000, 0)
	clock := func() time.Time {
		now = now.Add(100 * time.Millisecond)
		return now
	}

	tm := NewTimer(s, "parse", WithClock(clock))
	if err := tm.Time(func() error { return nil }); err != nil {
		t.Fatalf("Time: %v", err)
	}
	if err := tm.Time(func() error { return nil }); err != nil {
		t.Fatalf("Time: %v", err)
	}

	events := sink.getEvents()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	first, second := events[0], events[1]
	if first.Name() != TimerEvent {
		t.Errorf("event name = %q, want %q", first.Name(), TimerEvent)
	}
	if first["funcname"] != "parse" {
		t.Errorf("funcname = %v", first["funcname"])
	}
	if first["ncalls"] != 1 || second["ncalls"] != 2 {
		t.Errorf("ncalls = %v, %v; want 1, 2", first["ncalls"], second["ncalls"])
	}
	if sec := first["sec"].(float64); sec != 0.1 {
		t.Errorf("sec = %v, want 0.1", sec)
	}
	if total := second["total_sec"].(float64); total != 0.2 {
		t.Errorf("total_sec = %v, want 0.2", total)
	}
	if avg := second["avg_sec"].(float64); avg != 0.1 {
		t.Errorf("avg_sec = %v, want 0.1", avg)
	}
}

func TestTimerReturnsFunctionError(t *testing.T) {
	sink := newMockSink(Info)
	s := NewSubject()
	s.SetSink("out", sink)

	wantErr := errors.New("boom")
	tm := NewTimer(s, "failing")
	if err := tm.Time(func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("Time returned %v, want %v", err, wantErr)
	}
	if sink.count() != 1 {
		t.Error("timing event not emitted for failing call")
	}
}
