package tracer

import (
	"context"
	"sync"
)

// NoopTracer is a tracer that does nothing.
type NoopTracer struct{}

// NewNoop creates a new no-op tracer.
func NewNoop() *NoopTracer {
	return &NoopTracer{}
}

// Start returns the context unchanged and a no-op span.
func (t *NoopTracer) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                     {}
func (noopSpan) SetAttributes(...Attribute)    {}
func (noopSpan) AddEvent(string, ...Attribute) {}

// RecordedSpan is a finished span captured by Recorder.
type RecordedSpan struct {
	Name   string
	Attrs  map[string]any
	Events []string
	Err    error
}

// Recorder keeps finished spans in memory. Tests use it to assert which
// tracker calls happened and how they ended.
type Recorder struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins a span that is recorded when ended.
func (r *Recorder) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	s := &recordedSpan{owner: r, rec: RecordedSpan{Name: name, Attrs: map[string]any{}}}
	s.SetAttributes(attrs...)
	return ctx, s
}

// Spans returns the finished spans in completion order.
func (r *Recorder) Spans() []RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedSpan(nil), r.spans...)
}

// Names returns the names of the finished spans in completion order.
func (r *Recorder) Names() []string {
	spans := r.Spans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	return names
}

type recordedSpan struct {
	owner *Recorder
	mu    sync.Mutex
	rec   RecordedSpan
}

func (s *recordedSpan) End(err error) {
	s.mu.Lock()
	s.rec.Err = err
	rec := s.rec
	s.mu.Unlock()

	s.owner.mu.Lock()
	s.owner.spans = append(s.owner.spans, rec)
	s.owner.mu.Unlock()
}

func (s *recordedSpan) SetAttributes(attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attrs {
		s.rec.Attrs[a.Key] = a.Value
	}
}

func (s *recordedSpan) AddEvent(name string, attrs ...Attribute) {
	s.SetAttributes(attrs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Events = append(s.rec.Events, name)
}

var (
	_ Tracer = (*NoopTracer)(nil)
	_ Tracer = (*Recorder)(nil)
	_ Span   = noopSpan{}
	_ Span   = (*recordedSpan)(nil)
)
