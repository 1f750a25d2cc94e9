// Package tracer provides a lightweight tracing abstraction for tracker calls.
//
// The reporting client depends on this interface rather than on OpenTelemetry
// directly, so tests can run with NoopTracer and production wiring can plug in
// OTelTracer.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording err if non-nil.
	// End must be called exactly once, typically via defer.
	End(err error)

	// SetAttributes adds key-value pairs to the span.
	SetAttributes(attrs ...Attribute)

	// AddEvent records a timestamped event within the span.
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a new span with the given name and attributes.
	// The returned context carries the span for child operations.
	//
	// Example:
	//   ctx, span := tr.Start(ctx, tracer.SpanCreateIssue,
	//       tracer.String(tracer.AttrProject, project),
	//   )
	//   defer func() { span.End(err) }()
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int creates an int attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashIdentity returns a short SHA-256 digest of a login name so traces can be
// correlated per account without recording the account itself.
func HashIdentity(login string) string {
	if login == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(login))
	return hex.EncodeToString(hash[:8])
}

// Span names used by the reporting client and sink.
const (
	SpanLogin       = "youtrack.login"
	SpanCreateIssue = "youtrack.create_issue"
	SpanExecute     = "youtrack.execute"
	SpanEmitBatch   = "sink.emit_batch"
)

// Attribute keys.
const (
	AttrLogin        = "youtrack.login_hash"
	AttrProject      = "youtrack.project"
	AttrIssue        = "youtrack.issue"
	AttrIssueType    = "youtrack.issue_type"
	AttrCommand      = "youtrack.command"
	AttrStatusCode   = "http.status_code"
	AttrSessionReuse = "youtrack.session_reused"
	AttrBatchID      = "sink.batch_id"
	AttrBatchSize    = "sink.batch_size"
	AttrFailSilently = "sink.fail_silently"
)

// Event names.
const (
	EventIssueCreated  = "issue.created"
	EventCommandFailed = "command.failed"
)
