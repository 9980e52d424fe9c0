package semlog

import "time"

// Reserved event keys. Caller-supplied fields under these names are
// overwritten when an event is stamped.
const (
	KeyTimestamp = "ts"
	KeyEvent     = "event"
	KeySeverity  = "severity"
)

// RecSep terminates every text-mode record.
const RecSep = "\n"

// Event is a semi-structured record: arbitrary key/value fields plus the
// three reserved fields stamped by Subject.Event. Values are strings,
// numbers, or nested maps. Events are value objects once dispatched; each
// sink receives its own copy so one sink's mutations never corrupt
// another's view.
type Event map[string]any

// Stamp builds an event from a severity code, an event name, and caller
// fields. The timestamp is epoch seconds as a float. Reserved fields
// always win over caller-supplied values of the same name.
func Stamp(code, name string, fields map[string]any) Event {
	ev := make(Event, len(fields)+3)
	for k, v := range fields {
		ev[k] = v
	}
	ev[KeyTimestamp] = float64(time.Now().UnixNano()) / 1e9
	ev[KeyEvent] = name
	ev[KeySeverity] = NormalizeCode(code)
	return ev
}

// Severity returns the rank of the event's severity code, MaxSeverity if
// the code is missing or unrecognized.
func (e Event) Severity() Severity {
	code, _ := e[KeySeverity].(string)
	return ParseCode(code)
}

// Name returns the event name, empty if missing.
func (e Event) Name() string {
	name, _ := e[KeyEvent].(string)
	return name
}

// Timestamp returns the event's epoch-seconds timestamp, 0 if missing.
// Integer timestamps (as produced by some decoders) are converted.
func (e Event) Timestamp() float64 {
	switch v := e[KeyTimestamp].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}

// Clone returns a shallow copy of the event. Nested values are shared;
// sinks that derive display fields only add or remove top-level keys.
func (e Event) Clone() Event {
	cp := make(Event, len(e))
	for k, v := range e {
		cp[k] = v
	}
	return cp
}
