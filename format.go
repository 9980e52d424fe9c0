package semlog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Pseudo-fields derived by TextFormatter.
const (
	FieldISOTime = "isotime"
	FieldLevel   = "level"
	FieldKVP     = "kvp"
)

const (
	kvpSep = " "
	kvSep  = "="
)

var fieldPattern = regexp.MustCompile(`\{(\w.*?)\}`)

// TextFormatter renders events as text from a template containing
// "{fieldname}" placeholders. Three pseudo-fields are derived on demand:
//
//   - {isotime}: the timestamp as ISO-8601 local time, replacing the raw
//     ts field in the output
//   - {level}: the severity code expanded to its full name, replacing the
//     raw severity field
//   - {kvp}: all fields not referenced by the template, rendered as
//     space-joined key=value pairs
//
// Any literal field present in the event may also be referenced.
type TextFormatter struct {
	template  string
	fields    map[string]struct{}
	wantISO   bool
	wantLevel bool
	wantKVP   bool
}

// NewTextFormatter parses the template and returns a formatter.
func NewTextFormatter(template string) *TextFormatter {
	f := &TextFormatter{
		template: template,
		fields:   make(map[string]struct{}),
	}
	for _, m := range fieldPattern.FindAllStringSubmatch(template, -1) {
		f.fields[m[1]] = struct{}{}
	}
	_, f.wantISO = f.fields[FieldISOTime]
	_, f.wantLevel = f.fields[FieldLevel]
	_, f.wantKVP = f.fields[FieldKVP]
	return f
}

// Format renders the event. The event is mutated: derived pseudo-fields
// are added and the raw fields they shadow are removed, so callers must
// pass a private copy. Referencing a field absent from the event is an
// error.
func (f *TextFormatter) Format(ev Event) (string, error) {
	if f.wantISO {
		ev[FieldISOTime] = isoTime(ev.Timestamp())
		delete(ev, KeyTimestamp)
	}
	if f.wantLevel {
		code, _ := ev[KeySeverity].(string)
		ev[FieldLevel] = severityName(code)
		delete(ev, KeySeverity)
	}
	if f.wantKVP {
		ev[FieldKVP] = f.kvp(ev)
	}

	var missing string
	out := fieldPattern.ReplaceAllStringFunc(f.template, func(ph string) string {
		name := ph[1 : len(ph)-1]
		v, ok := ev[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return ph
		}
		return formatValue(v)
	})
	if missing != "" {
		return "", fmt.Errorf("semlog: format references field %q not present in event", missing)
	}
	return out, nil
}

// kvp renders every field the template does not reference as key=value
// pairs in sorted key order. Timestamps keep microsecond precision,
// severity codes expand to full names, and string values containing
// whitespace are double-quoted with embedded quotes escaped.
func (f *TextFormatter) kvp(ev Event) string {
	keys := make([]string, 0, len(ev))
	for k := range ev {
		if _, ok := f.fields[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := ev[k]
		var s string
		switch {
		case k == KeyTimestamp:
			s = fmt.Sprintf("%.6f", ev.Timestamp())
		case k == KeySeverity:
			code, _ := v.(string)
			s = severityName(code)
		default:
			s = formatValue(v)
			if str, ok := v.(string); ok && strings.ContainsAny(str, " \t") {
				s = `"` + strings.ReplaceAll(str, `"`, `\"`) + `"`
			}
		}
		pairs = append(pairs, k+kvSep+s)
	}
	return strings.Join(pairs, kvpSep)
}

// severityName expands a one-letter code to its full name. Unknown codes
// pass through unchanged so the original value stays visible.
func severityName(code string) string {
	sev := ParseCode(code)
	if sev == MaxSeverity {
		return code
	}
	return sev.String()
}

func formatValue(v any) string {
	return fmt.Sprintf("%v", v)
}

// isoTime renders epoch seconds as ISO-8601 local time with up to
// microsecond precision, trailing zeros trimmed.
func isoTime(ts float64) string {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).Format("2006-01-02T15:04:05.999999")
}
