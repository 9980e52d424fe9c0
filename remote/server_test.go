package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/semlog/semlog"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []semlog.Event
	lines  []string
	errs   int
}

func (r *eventRecorder) onEvent(ev semlog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) onLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *eventRecorder) onError(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs++
}

func (r *eventRecorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) lineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func (r *eventRecorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startServer(t *testing.T, opts ...ServerOption) (*Server, int) {
	t.Helper()
	srv := NewServer("127.0.0.1", 0, opts...)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(5 * time.Second) })
	return srv, srv.Addr().(*net.TCPAddr).Port
}

func TestStopBeforeStart(t *testing.T) {
	srv := NewServer("127.0.0.1", 0)
	if !srv.Stop(time.Second) {
		t.Error("Stop on a never-started server should succeed")
	}
	if !srv.Stop(time.Second) {
		t.Error("repeated Stop should succeed")
	}
}

func TestServerLifecycle(t *testing.T) {
	srv, _ := startServer(t)
	if err := srv.Start(); err == nil {
		t.Error("second Start succeeded on a running server")
	}
	if !srv.Stop(5 * time.Second) {
		t.Fatal("Stop timed out")
	}
	if !srv.Stop(time.Second) {
		t.Error("Stop after stop should be a successful no-op")
	}
	if err := srv.Start(); err == nil {
		t.Error("Start succeeded on a stopped server")
	}
}

func TestPushStructuredModes(t *testing.T) {
	tests := []struct {
		mode Mode
		want any // decoded type of the "n" field
	}{
		{mode: ModeJSON, want: float64(1)},
		{mode: ModeCBOR, want: int64(1)},
		{mode: ModeLegacy, want: int64(1)},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			rec := &eventRecorder{}
			_, port := startServer(t, WithServerMode(tt.mode), WithCallback(rec.onEvent))

			sink, err := NewSink("127.0.0.1", port, WithMode(tt.mode))
			if err != nil {
				t.Fatalf("NewSink: %v", err)
			}
			defer sink.Close()

			if err := sink.Deliver(semlog.Stamp("i", "ping", map[string]any{"n": int64(1)})); err != nil {
				t.Fatalf("Deliver: %v", err)
			}

			waitFor(t, 5*time.Second, func() bool { return rec.eventCount() == 1 })
			ev := rec.events[0]
			if ev.Name() != "ping" {
				t.Errorf("event name = %q, want %q", ev.Name(), "ping")
			}
			if got := ev["n"]; got != tt.want {
				t.Errorf("field n = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestPushText(t *testing.T) {
	rec := &eventRecorder{}
	_, port := startServer(t, WithServerMode(ModeText), WithTextCallback(rec.onLine))

	sink, err := NewSink("127.0.0.1", port, WithTextFormat("{level} {event}"))
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Close()

	if err := sink.Deliver(semlog.Stamp("w", "disk low", nil)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return rec.lineCount() == 1 })
	if got := rec.lines[0]; got != "WARNING disk low" {
		t.Errorf("line = %q, want %q", got, "WARNING disk low")
	}
}

func TestUndecodableMessageSkipped(t *testing.T) {
	rec := &eventRecorder{}
	_, port := startServer(t, WithCallback(rec.onEvent), WithErrorHook(rec.onError))

	conn, _, _, err := ws.Dial(context.Background(), fmt.Sprintf("ws://127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("ws.Dial: %v", err)
	}
	defer conn.Close()

	if err := wsutil.WriteClientMessage(conn, ws.OpText, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	valid, _ := json.Marshal(semlog.Stamp("i", "after", nil))
	if err := wsutil.WriteClientMessage(conn, ws.OpText, valid); err != nil {
		t.Fatalf("write valid: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return rec.eventCount() == 1 })
	if rec.errCount() != 1 {
		t.Errorf("error hook fired %d times, want 1", rec.errCount())
	}
	if rec.events[0].Name() != "after" {
		t.Error("event after garbage was not delivered")
	}
}

func TestSlowSenderFrameSpansPollIntervals(t *testing.T) {
	rec := &eventRecorder{}
	_, port := startServer(t, WithServerMode(ModeLegacy), WithCallback(rec.onEvent), WithErrorHook(rec.onError))

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	defer conn.Close()

	payload, _, err := encode(ModeLegacy, nil, semlog.Stamp("i", "slow", nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	frame := buf.Bytes()

	// Trickle the frame out with pauses longer than the server's read
	// poll interval, splitting both the length prefix and the payload.
	for _, chunk := range [][]byte{frame[:2], frame[2:6], frame[6:]} {
		if _, err := conn.Write(chunk); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}

	waitFor(t, 5*time.Second, func() bool { return rec.eventCount() == 1 })
	if rec.events[0].Name() != "slow" {
		t.Errorf("event name = %q, want %q", rec.events[0].Name(), "slow")
	}
	if rec.errCount() != 0 {
		t.Errorf("decode errors = %d, want 0; stream desynced across read deadlines", rec.errCount())
	}
}

func TestSlowWebsocketSenderDelivered(t *testing.T) {
	rec := &eventRecorder{}
	_, port := startServer(t, WithCallback(rec.onEvent), WithErrorHook(rec.onError))

	conn, _, _, err := ws.Dial(context.Background(), fmt.Sprintf("ws://127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("ws.Dial: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(semlog.Stamp("i", "trickle", nil))
	var buf bytes.Buffer
	if err := wsutil.WriteClientMessage(&buf, ws.OpText, payload); err != nil {
		t.Fatalf("building frame: %v", err)
	}
	frame := buf.Bytes()

	mid := len(frame) / 2
	for _, chunk := range [][]byte{frame[:mid], frame[mid:]} {
		if _, err := conn.Write(chunk); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}

	waitFor(t, 5*time.Second, func() bool { return rec.eventCount() == 1 })
	if rec.events[0].Name() != "trickle" {
		t.Errorf("event name = %q, want %q", rec.events[0].Name(), "trickle")
	}
	if rec.errCount() != 0 {
		t.Errorf("decode errors = %d, want 0", rec.errCount())
	}
}

func TestMultipleSendersFanIn(t *testing.T) {
	rec := &eventRecorder{}
	_, port := startServer(t, WithCallback(rec.onEvent))

	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	for i := 0; i < 3; i++ {
		conn, _, _, err := ws.Dial(context.Background(), url)
		if err != nil {
			t.Fatalf("ws.Dial: %v", err)
		}
		defer conn.Close()

		payload, _ := json.Marshal(semlog.Stamp("i", "hello", map[string]any{"sender": i}))
		if err := wsutil.WriteClientMessage(conn, ws.OpText, payload); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return rec.eventCount() == 3 })
}

func TestSinksShareConnection(t *testing.T) {
	_, port := startServer(t)
	key := fmt.Sprintf("ws://127.0.0.1:%d", port)

	a, err := NewSink("127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	b, err := NewSink("127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	conns.mu.Lock()
	shared, ok := conns.conns[key]
	refs := 0
	if ok {
		refs = shared.refs
	}
	conns.mu.Unlock()
	if !ok || refs != 2 {
		t.Fatalf("expected one shared connection with 2 refs, got ok=%v refs=%d", ok, refs)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	conns.mu.Lock()
	_, ok = conns.conns[key]
	conns.mu.Unlock()
	if !ok {
		t.Fatal("connection closed while a sink still references it")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	conns.mu.Lock()
	_, ok = conns.conns[key]
	conns.mu.Unlock()
	if ok {
		t.Error("connection not evicted after last reference released")
	}
}

func TestSubjectFansOutToRemote(t *testing.T) {
	rec := &eventRecorder{}
	_, port := startServer(t, WithCallback(rec.onEvent))

	sink, err := NewSink("127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Close()

	s := semlog.NewSubject()
	s.SetSink("wire", sink)

	if err := s.Warning("low disk", map[string]any{"free_mb": 12}); err != nil {
		t.Fatalf("Warning: %v", err)
	}
	// Below the default Info threshold, filtered before the wire.
	if err := s.Debug("noise", nil); err != nil {
		t.Fatalf("Debug: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return rec.eventCount() == 1 })
	time.Sleep(150 * time.Millisecond)
	if got := rec.eventCount(); got != 1 {
		t.Errorf("received %d events, want 1 (debug should be filtered)", got)
	}
	if rec.events[0].Name() != "low disk" {
		t.Errorf("event name = %q", rec.events[0].Name())
	}
}
