// Package template renders issue text from log events.
//
// Templates are plain text with brace-delimited tokens:
//
//	{Timestamp[:layout]}  event time, formatted with a Go time layout
//	{Level}               event level
//	{Message}             event message
//	{NewLine}             a line break
//	{Exception}           the rendered error chain, empty when absent
//	{Name[:verb]}         any other name looks up an event attribute
//
// Unknown attribute names render verbatim, including the braces. "{{" and
// "}}" produce literal braces.
package template

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"issuesink/internal/event"
	dErrors "issuesink/pkg/domain-errors"
)

// Default templates used when no summary or description template is configured.
const (
	DefaultSummary     = "[{Level}] {Message}"
	DefaultDescription = "{Timestamp:2006-01-02 15:04:05.000 -07:00} [{Level}] {Message}{NewLine}{Exception}"
)

const defaultTimestampLayout = time.RFC3339Nano

// Formatter renders a parsed template against events. It is immutable and
// safe for concurrent use.
type Formatter struct {
	source  string
	tokens  []token
	printer *message.Printer
	loc     *time.Location
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithLanguage formats numeric attributes using the conventions of tag,
// e.g. digit grouping. Without it values are rendered with fmt defaults.
func WithLanguage(tag language.Tag) Option {
	return func(f *Formatter) {
		f.printer = message.NewPrinter(tag)
	}
}

// WithLocation renders timestamps in loc instead of the event's own zone.
func WithLocation(loc *time.Location) Option {
	return func(f *Formatter) {
		if loc != nil {
			f.loc = loc
		}
	}
}

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenTimestamp
	tokenLevel
	tokenMessage
	tokenNewLine
	tokenException
	tokenProperty
)

type token struct {
	kind   tokenKind
	text   string // literal text, or the raw token for properties
	name   string
	format string
}

// New parses tmpl. A template with an unterminated token is a configuration error.
func New(tmpl string, opts ...Option) (*Formatter, error) {
	tokens, err := parse(tmpl)
	if err != nil {
		return nil, err
	}
	f := &Formatter{source: tmpl, tokens: tokens}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// MustNew is New that panics on error. Intended for package-level defaults.
func MustNew(tmpl string, opts ...Option) *Formatter {
	f, err := New(tmpl, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Source returns the template text the formatter was built from.
func (f *Formatter) Source() string {
	return f.source
}

// Format writes the rendered event to w.
func (f *Formatter) Format(e event.Event, w io.Writer) error {
	_, err := io.WriteString(w, f.Render(e))
	return err
}

// Render returns the rendered event.
func (f *Formatter) Render(e event.Event) string {
	var b strings.Builder
	for _, t := range f.tokens {
		switch t.kind {
		case tokenText:
			b.WriteString(t.text)
		case tokenTimestamp:
			ts := e.Time
			if f.loc != nil {
				ts = ts.In(f.loc)
			}
			layout := t.format
			if layout == "" {
				layout = defaultTimestampLayout
			}
			b.WriteString(ts.Format(layout))
		case tokenLevel:
			b.WriteString(e.Level.String())
		case tokenMessage:
			b.WriteString(e.Message)
		case tokenNewLine:
			b.WriteString("\n")
		case tokenException:
			b.WriteString(e.Exception())
		case tokenProperty:
			v, ok := e.Lookup(t.name)
			if !ok {
				b.WriteString(t.text)
				continue
			}
			b.WriteString(f.value(v, t.format))
		}
	}
	return b.String()
}

func (f *Formatter) value(v slog.Value, verb string) string {
	if verb == "" {
		verb = "%v"
	} else if !strings.HasPrefix(verb, "%") {
		verb = "%" + verb
	}

	var arg any
	switch v.Kind() {
	case slog.KindTime:
		if verb == "%v" {
			return v.Time().Format(defaultTimestampLayout)
		}
		arg = v.Time()
	case slog.KindDuration:
		arg = v.Duration()
	default:
		arg = v.Any()
	}

	if f.printer != nil {
		switch v.Kind() {
		case slog.KindInt64, slog.KindUint64, slog.KindFloat64:
			return f.printer.Sprintf(verb, arg)
		}
	}
	return fmt.Sprintf(verb, arg)
}

func parse(tmpl string) ([]token, error) {
	var (
		tokens []token
		text   strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			tokens = append(tokens, token{kind: tokenText, text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			text.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			text.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return nil, dErrors.Newf(dErrors.CodeConfiguration, "template %q: unterminated token at offset %d", tmpl, i)
			}
			raw := tmpl[i : i+end+1]
			flush()
			tokens = append(tokens, classify(raw))
			i += end
		default:
			text.WriteByte(c)
		}
	}
	flush()
	return tokens, nil
}

func classify(raw string) token {
	body := raw[1 : len(raw)-1]
	name, format, _ := strings.Cut(body, ":")
	name = strings.TrimSpace(name)

	t := token{text: raw, name: name, format: format}
	switch name {
	case "Timestamp":
		t.kind = tokenTimestamp
	case "Level":
		t.kind = tokenLevel
	case "Message":
		t.kind = tokenMessage
	case "NewLine":
		t.kind = tokenNewLine
	case "Exception":
		t.kind = tokenException
	case "":
		t.kind = tokenText
	default:
		t.kind = tokenProperty
	}
	return t
}
