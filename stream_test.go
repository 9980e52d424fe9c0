package semlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// flushRecorder counts Flush calls on top of a buffer.
type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() error {
	f.flushes++
	return nil
}

func TestStreamSinkJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStreamSink(&buf)

	ev := Stamp("i", "hello", map[string]any{"x": 1})
	if err := sink.Deliver(ev.Clone()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	line := buf.String()
	if !strings.HasSuffix(line, RecSep) {
		t.Fatalf("record not terminated: %q", line)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded[KeyEvent] != "hello" {
		t.Errorf("event = %v, want hello", decoded[KeyEvent])
	}
	if decoded["x"] != float64(1) {
		t.Errorf("x = %v, want 1", decoded["x"])
	}
}

func TestStreamSinkText(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStreamSink(&buf, WithTextFormat("{level} {event}"))

	ev := Event{KeySeverity: "E", KeyEvent: "boom"}
	if err := sink.Deliver(ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := buf.String(); got != "ERROR boom\n" {
		t.Errorf("output = %q, want %q", got, "ERROR boom\n")
	}
}

func TestStreamSinkFlushesPerEvent(t *testing.T) {
	rec := &flushRecorder{}
	sink := NewStreamSink(rec)

	for i := 0; i < 3; i++ {
		if err := sink.Deliver(Stamp("i", "tick", nil)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	if rec.flushes != 3 {
		t.Errorf("flushes = %d, want 3", rec.flushes)
	}
}

func TestStreamSinkThreshold(t *testing.T) {
	sink := NewStreamSink(&bytes.Buffer{}, WithStreamThreshold(Warning))

	tests := []struct {
		code string
		want bool
	}{
		{code: "F", want: true},
		{code: "E", want: true},
		{code: "W", want: true},
		{code: "I", want: false},
		{code: "D", want: false},
		{code: "T", want: false},
		{code: "z", want: false},
	}
	for _, tt := range tests {
		ev := Event{KeySeverity: tt.code}
		if got := sink.Accept(ev); got != tt.want {
			t.Errorf("Accept(severity=%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestStreamSinkDefaultsToInfo(t *testing.T) {
	sink := NewStreamSink(&bytes.Buffer{})
	if !sink.Accept(Event{KeySeverity: "I"}) {
		t.Error("default threshold rejects Info")
	}
	if sink.Accept(Event{KeySeverity: "D"}) {
		t.Error("default threshold accepts Debug")
	}
}
