package semlog

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxStored is the default capacity of a Subject's async delivery queue.
const MaxStored = 100

const (
	// idlePoll is how long the worker sleeps when the queue is empty.
	// It bounds how long Close can take when the queue is idle.
	idlePoll = 100 * time.Millisecond

	// drainPoll is the interval at which Drain re-checks queue depth.
	drainPoll = 10 * time.Millisecond
)

type queueEntry struct {
	sink Sink
	ev   Event
}

// eventQueue is the bounded multi-producer single-consumer buffer behind
// an async Subject. Producers never block: when the queue is at capacity
// the oldest not-yet-started entry is silently discarded. A single worker
// goroutine drains entries in FIFO order. The entry being delivered stays
// counted in the depth until its delivery finishes, so depth reflects
// work not yet completed; overflow never discards in-flight work.
type eventQueue struct {
	mu       sync.Mutex
	entries  []queueEntry
	inflight int
	max      int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	log       zerolog.Logger
}

func newEventQueue(capacity int, log zerolog.Logger) *eventQueue {
	if capacity <= 0 {
		capacity = MaxStored
	}
	q := &eventQueue{
		entries: make([]queueEntry, 0, capacity),
		max:     capacity,
		done:    make(chan struct{}),
		log:     log,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// push appends an entry, then drops the oldest waiting entry if the
// depth exceeds capacity. Appending first means an in-flight delivery
// occupying the whole capacity discards the incoming entry, never the
// work in progress.
func (q *eventQueue) push(sink Sink, ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, queueEntry{sink: sink, ev: ev})
	if len(q.entries)+q.inflight > q.max {
		dropped := q.entries[0]
		copy(q.entries, q.entries[1:])
		q.entries = q.entries[:len(q.entries)-1]
		q.log.Debug().Str("event", dropped.ev.Name()).Msg("queue full, oldest event dropped")
	}
}

// take removes the oldest entry and marks it in flight.
func (q *eventQueue) take() (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	e := q.entries[0]
	copy(q.entries, q.entries[1:])
	q.entries = q.entries[:len(q.entries)-1]
	q.inflight = 1
	return e, true
}

// finish marks the in-flight delivery complete.
func (q *eventQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = 0
}

// len counts waiting entries plus any delivery still in flight.
func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) + q.inflight
}

// run is the worker goroutine. It drains the queue FIFO, sleeping briefly
// when empty, until close is called; the final pass drains whatever was
// accepted before the close.
func (q *eventQueue) run() {
	defer q.wg.Done()
	for {
		q.flush()
		select {
		case <-q.done:
			q.flush()
			return
		case <-time.After(idlePoll):
		}
	}
}

func (q *eventQueue) flush() {
	for {
		e, ok := q.take()
		if !ok {
			return
		}
		q.deliver(e)
		q.finish()
	}
}

// deliver dispatches one entry, isolating the worker from sink failures:
// a delivery error or panic is logged and the worker moves on, so one bad
// sink cannot kill the whole pipeline.
func (q *eventQueue) deliver(e queueEntry) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("event", e.ev.Name()).Msg("sink panicked during delivery")
		}
	}()
	if err := e.sink.Deliver(e.ev); err != nil {
		q.log.Error().Err(err).Str("event", e.ev.Name()).Msg("async delivery failed")
	}
}

// drain blocks until the queue empties or the timeout elapses, reporting
// whether it emptied in time. New events may refill the queue concurrently.
func (q *eventQueue) drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for q.len() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(drainPoll)
	}
	return true
}

// close stops the worker after a final drain. Safe to call multiple times.
func (q *eventQueue) close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
