// Package semlog is a semi-structured event logging library. Callers emit
// named key/value events tagged with a severity; a Subject fans each event
// out to the sinks whose severity threshold accepts it. Sinks render events
// as JSON or formatted text, forward them to syslog, or push them to a
// remote receiver (see the remote subpackage).
package semlog

import (
	"fmt"
	"strings"
)

// Severity is the rank of an event's importance. Lower ranks are more
// severe: Fatal is 0, Trace is 5.
type Severity int

// Severity ranks, most severe first.
const (
	Fatal Severity = iota
	Error
	Warning
	Info
	Debug
	Trace
)

// MaxSeverity is the sentinel rank assigned to unrecognized severity codes.
// It is strictly greater than every real rank, so a sink with a finite
// threshold never accepts an event carrying an unknown code. Supplying it
// as a threshold makes a sink accept everything.
const MaxSeverity Severity = 99

// DefaultThreshold is the severity threshold sinks are created with.
const DefaultThreshold = Info

var severityNames = map[Severity]string{
	Fatal:   "FATAL",
	Error:   "ERROR",
	Warning: "WARNING",
	Info:    "INFO",
	Debug:   "DEBUG",
	Trace:   "TRACE",
}

var severityCodes = map[byte]Severity{
	'F': Fatal,
	'E': Error,
	'W': Warning,
	'I': Info,
	'D': Debug,
	'T': Trace,
}

// String returns the full uppercase name of the severity, or "UNKNOWN"
// for ranks outside the defined set.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Code returns the one-letter code for the severity, or "?" for ranks
// outside the defined set.
func (s Severity) Code() string {
	for c, sev := range severityCodes {
		if sev == s {
			return string(c)
		}
	}
	return "?"
}

// ParseCode maps a one-letter severity code to its rank. Matching is
// case-insensitive and only the first character is significant, so "e",
// "E", and "error" all rank as Error. Unknown or empty codes map to
// MaxSeverity, never an error: misconfigured severities fail closed.
func ParseCode(code string) Severity {
	if code == "" {
		return MaxSeverity
	}
	c := code[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if sev, ok := severityCodes[c]; ok {
		return sev
	}
	return MaxSeverity
}

// NormalizeCode reduces a severity code to its canonical single uppercase
// letter. Unknown codes are passed through uppercased so the original
// value survives on the wire.
func NormalizeCode(code string) string {
	if code == "" {
		return ""
	}
	return strings.ToUpper(code[:1])
}

// ParseThreshold resolves a sink threshold from a letter code. Unlike
// event severities, a threshold is configuration: an unknown code is an
// error rather than a silent sentinel. An empty code yields
// DefaultThreshold.
func ParseThreshold(code string) (Severity, error) {
	if code == "" {
		return DefaultThreshold, nil
	}
	sev := ParseCode(code)
	if sev == MaxSeverity {
		return 0, fmt.Errorf("semlog: unknown severity code %q", code)
	}
	return sev, nil
}

// ClampRank converts a raw integer rank into a threshold. Negative values
// clamp to zero; values above Trace are accepted verbatim, which permits
// an accept-everything threshold.
func ClampRank(rank int) Severity {
	if rank < 0 {
		return 0
	}
	return Severity(rank)
}
