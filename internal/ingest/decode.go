// Package ingest feeds newline-delimited JSON log records, in the shape
// written by slog.JSONHandler, into a slog.Handler.
package ingest

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	dErrors "issuesink/pkg/domain-errors"
)

// Keys with a fixed meaning in a JSON log line.
const (
	KeyTime    = slog.TimeKey
	KeyLevel   = slog.LevelKey
	KeyMessage = slog.MessageKey
)

// Decode converts one JSON object into a record. A missing time defaults to
// now and a missing level to INFO. Nested objects become groups.
func Decode(line []byte, now func() time.Time) (slog.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return slog.Record{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode log line")
	}
	if fields == nil {
		return slog.Record{}, dErrors.New(dErrors.CodeInvalidInput, "log line is not a JSON object")
	}

	ts := now()
	if v, ok := fields[KeyTime].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return slog.Record{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse time")
		}
		ts = parsed
	}

	level := slog.LevelInfo
	if v, ok := fields[KeyLevel].(string); ok {
		if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			return slog.Record{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse level")
		}
	}

	msg, _ := fields[KeyMessage].(string)

	r := slog.NewRecord(ts, level, msg, 0)
	r.AddAttrs(attrs(fields, KeyTime, KeyLevel, KeyMessage)...)
	return r, nil
}

// attrs converts an object into attributes sorted by key, skipping skip.
func attrs(fields map[string]any, skip ...string) []slog.Attr {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !slices.Contains(skip, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	out := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		out = append(out, attr(k, fields[k]))
	}
	return out
}

func attr(key string, v any) slog.Attr {
	switch v := v.(type) {
	case string:
		return slog.String(key, v)
	case bool:
		return slog.Bool(key, v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return slog.Int64(key, n)
		}
		if f, err := v.Float64(); err == nil {
			return slog.Float64(key, f)
		}
		return slog.String(key, v.String())
	case map[string]any:
		return slog.Attr{Key: key, Value: slog.GroupValue(attrs(v)...)}
	default:
		return slog.Any(key, v)
	}
}
