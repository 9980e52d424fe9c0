package semlog

import (
	"errors"
	"testing"
	"time"
)

func TestAsyncProducerNeverBlocks(t *testing.T) {
	sink := newMockSink(Info)
	sink.delay = 200 * time.Millisecond

	s := NewSubject(WithAsync())
	defer s.Close()
	s.SetSink("slow", sink)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := s.Info("burst", map[string]any{"i": i}); err != nil {
			t.Fatalf("Info: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("5 async events took %v, producer blocked on slow sink", elapsed)
	}

	if !s.Drain(5 * time.Second) {
		t.Fatal("queue did not drain")
	}
	if got := sink.count(); got != 5 {
		t.Errorf("delivered %d events, want 5", got)
	}
}

func TestDrainBlocksUntilEmpty(t *testing.T) {
	sink := newMockSink(Info)
	sink.delay = 250 * time.Millisecond

	s := NewSubject(WithAsync())
	defer s.Close()
	s.SetSink("slow", sink)

	_ = s.Info("a", nil)
	_ = s.Info("b", nil)

	start := time.Now()
	if !s.Drain(5 * time.Second) {
		t.Fatal("Drain timed out")
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("Drain returned after %v with deliveries outstanding", elapsed)
	}
}

func TestDrainTimesOut(t *testing.T) {
	sink := newMockSink(Info)
	sink.gate = make(chan struct{})

	s := NewSubject(WithAsync())
	s.SetSink("stuck", sink)

	_ = s.Info("a", nil)
	if s.Drain(50 * time.Millisecond) {
		t.Error("Drain reported success with a stuck sink")
	}

	close(sink.gate)
	if !s.Drain(5 * time.Second) {
		t.Error("Drain timed out after sink unblocked")
	}
	s.Close()
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	sink := newMockSink(Info)
	sink.gate = make(chan struct{})

	const capacity = 4
	s := NewSubject(WithQueueCapacity(capacity))
	s.SetSink("stuck", sink)

	// Give the worker time to start one delivery, then flood well past
	// capacity while it is stuck.
	_ = s.Info("evt", map[string]any{"i": 0})
	time.Sleep(150 * time.Millisecond)
	for i := 1; i <= 20; i++ {
		_ = s.Info("evt", map[string]any{"i": i})
		if depth := s.QueueLen(); depth > capacity {
			t.Fatalf("queue depth %d exceeds capacity %d", depth, capacity)
		}
	}

	close(sink.gate)
	if !s.Drain(5 * time.Second) {
		t.Fatal("queue did not drain")
	}
	s.Close()

	events := sink.getEvents()
	if len(events) > capacity {
		t.Fatalf("delivered %d events, want at most %d", len(events), capacity)
	}
	// The newest event survives overflow; the oldest waiting entries
	// were discarded first.
	last := events[len(events)-1]
	if last["i"] != 20 {
		t.Errorf("newest event dropped: last delivered i=%v, want 20", last["i"])
	}
}

func TestQueueCapacityOneWithDeliveryInFlight(t *testing.T) {
	sink := newMockSink(Info)
	sink.gate = make(chan struct{})

	s := NewSubject(WithQueueCapacity(1))
	s.SetSink("stuck", sink)

	// Let the worker start delivering the first event, then push while
	// the in-flight delivery occupies the whole capacity.
	_ = s.Info("first", nil)
	time.Sleep(150 * time.Millisecond)
	_ = s.Info("second", nil)

	if depth := s.QueueLen(); depth > 1 {
		t.Fatalf("queue depth %d exceeds capacity 1", depth)
	}

	close(sink.gate)
	if !s.Drain(5 * time.Second) {
		t.Fatal("queue did not drain")
	}
	s.Close()

	events := sink.getEvents()
	if len(events) != 1 {
		t.Fatalf("delivered %d events, want 1", len(events))
	}
	if events[0].Name() != "first" {
		t.Errorf("in-flight delivery was displaced: got %q", events[0].Name())
	}
}

func TestAsyncFIFOOrder(t *testing.T) {
	sink := newMockSink(Info)
	s := NewSubject(WithAsync())
	defer s.Close()
	s.SetSink("out", sink)

	for i := 0; i < 10; i++ {
		_ = s.Info("seq", map[string]any{"i": i})
	}
	if !s.Drain(5 * time.Second) {
		t.Fatal("queue did not drain")
	}

	for i, ev := range sink.getEvents() {
		if ev["i"] != i {
			t.Fatalf("delivery %d carried i=%v, FIFO order broken", i, ev["i"])
		}
	}
}

func TestAsyncDeliveryErrorsIsolated(t *testing.T) {
	bad := newMockSink(Info)
	bad.err = errors.New("write failed")
	good := newMockSink(Info)

	s := NewSubject(WithAsync())
	defer s.Close()
	s.Configure(Config{Observers: map[string]Sink{"bad": bad, "good": good}})

	for i := 0; i < 3; i++ {
		_ = s.Info("evt", nil)
	}
	if !s.Drain(5 * time.Second) {
		t.Fatal("queue did not drain")
	}
	if got := good.count(); got != 3 {
		t.Errorf("good sink got %d events, want 3; a failing sink stalled the pipeline", got)
	}
}

func TestSyncSubjectQueueLenZero(t *testing.T) {
	s := NewSubject()
	s.SetSink("out", newMockSink(Info))
	_ = s.Info("x", nil)
	if s.QueueLen() != 0 {
		t.Errorf("sync subject QueueLen = %d, want 0", s.QueueLen())
	}
}

func TestCloseDeliversAcceptedEvents(t *testing.T) {
	sink := newMockSink(Info)
	s := NewSubject(WithAsync())
	s.SetSink("out", sink)

	for i := 0; i < 5; i++ {
		_ = s.Info("evt", nil)
	}
	s.Close()

	if got := sink.count(); got != 5 {
		t.Errorf("Close delivered %d of 5 accepted events", got)
	}
}
