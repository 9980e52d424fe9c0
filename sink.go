package semlog

// Sink consumes events that pass its severity filter.
// Implementations must be safe for concurrent use: in async mode the
// background worker delivers concurrently with sync deliveries from
// other subjects sharing a writer.
type Sink interface {
	// Accept reports whether the sink wants the event, typically by
	// comparing the event's severity rank against a threshold.
	Accept(ev Event) bool

	// Deliver renders or transmits the event. The event is a private
	// copy; implementations may mutate it. Failures propagate to the
	// caller, which decides disposition.
	Deliver(ev Event) error
}

// SeverityFilter implements threshold-based Accept for embedding in sinks.
// A sink accepts an event iff the event's severity rank is less than or
// equal to the threshold rank.
type SeverityFilter struct {
	Threshold Severity
}

// Accept reports whether the event's severity is within the threshold.
// Unknown codes rank as MaxSeverity and are rejected by any finite
// threshold.
func (f SeverityFilter) Accept(ev Event) bool {
	return ev.Severity() <= f.Threshold
}
