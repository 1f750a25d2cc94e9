// Package event defines the log event shape the reporting pipeline consumes.
//
// Events are produced from slog records at the handler boundary, so everything
// downstream (formatters, issue type resolvers, command providers) works on a
// plain value that is safe to buffer after the record's Handle call returns.
package event

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Event is a single log entry captured for reporting.
type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	// Err is the error attached to the record, if any.
	Err error
	// Attrs are the remaining attributes, with group names folded into
	// dot-separated keys.
	Attrs []slog.Attr
}

// errorKeys are attribute keys treated as the event's error even when the value
// is not an error (e.g. a string rendered upstream).
var errorKeys = map[string]bool{"error": true, "err": true}

// FromRecord converts a record into an Event. groups is the handler's open
// group path and handlerAttrs are attributes added through WithAttrs; both are
// applied ahead of the record's own attributes.
func FromRecord(r slog.Record, groups []string, handlerAttrs []slog.Attr) Event {
	e := Event{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make([]slog.Attr, 0, len(handlerAttrs)+r.NumAttrs()),
	}

	prefix := strings.Join(groups, ".")
	for _, a := range handlerAttrs {
		e.add(prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		e.add(prefix, a)
		return true
	})
	return e
}

func (e *Event) add(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		p := join(prefix, a.Key)
		for _, ga := range a.Value.Group() {
			e.add(p, ga)
		}
		return
	}

	if e.Err == nil {
		if err, ok := a.Value.Any().(error); ok && a.Value.Kind() == slog.KindAny {
			e.Err = err
			return
		}
		if prefix == "" && errorKeys[a.Key] && a.Value.Kind() == slog.KindString {
			e.Err = errors.New(a.Value.String())
			return
		}
	}

	a.Key = join(prefix, a.Key)
	e.Attrs = append(e.Attrs, a)
}

func join(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// Lookup returns the attribute with the given dot-qualified key.
func (e Event) Lookup(key string) (slog.Value, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}

// Exception renders the event's error chain, one error per line. Joined
// errors are expanded and nested causes are indented beneath their parent.
// It returns an empty string when the event carries no error.
func (e Event) Exception() string {
	if e.Err == nil {
		return ""
	}
	var b strings.Builder
	writeChain(&b, e.Err, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeChain(b *strings.Builder, err error, depth int) {
	for err != nil {
		if multi, ok := err.(interface{ Unwrap() []error }); ok {
			// errors.Join messages are just the children's text joined by newlines.
			childDepth := depth
			if msg := err.Error(); !strings.Contains(msg, "\n") {
				writeLine(b, msg, depth)
				childDepth++
			}
			for _, inner := range multi.Unwrap() {
				writeChain(b, inner, childDepth)
			}
			return
		}

		writeLine(b, err.Error(), depth)
		next := errors.Unwrap(err)
		if next == nil {
			return
		}
		// Most wrappers embed the cause's text; skip a level that adds nothing.
		if next.Error() == err.Error() {
			next = errors.Unwrap(next)
		}
		err = next
		depth++
	}
}

func writeLine(b *strings.Builder, msg string, depth int) {
	if depth > 0 {
		b.WriteString(strings.Repeat("  ", depth-1))
		b.WriteString("---> ")
	}
	b.WriteString(msg)
	b.WriteByte('\n')
}
