package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuesink/internal/tracer"
)

func TestNoopTracer_Start(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanLogin, tracer.String("key", "value"))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Bool("flag", true))
	span.AddEvent("evt", tracer.Int64("count", 42))
	span.End(errors.New("ignored"))
}

func TestOTelTracer_GlobalProviderDoesNotPanic(t *testing.T) {
	tr := tracer.NewOTel()
	_, span := tr.Start(context.Background(), tracer.SpanCreateIssue,
		tracer.String(tracer.AttrProject, "abc"),
		tracer.Int(tracer.AttrBatchSize, 3),
		tracer.Duration("latency", 5*time.Millisecond),
	)
	span.AddEvent(tracer.EventIssueCreated)
	span.End(nil)
}

func TestRecorder(t *testing.T) {
	rec := tracer.NewRecorder()

	_, first := rec.Start(context.Background(), tracer.SpanLogin, tracer.String(tracer.AttrLogin, "h"))
	_, second := rec.Start(context.Background(), tracer.SpanCreateIssue)
	second.AddEvent(tracer.EventIssueCreated, tracer.String(tracer.AttrIssue, "/rest/issue/A-1"))
	second.End(nil)
	boom := errors.New("boom")
	first.End(boom)

	spans := rec.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, []string{tracer.SpanCreateIssue, tracer.SpanLogin}, rec.Names())
	assert.Equal(t, []string{tracer.EventIssueCreated}, spans[0].Events)
	assert.Equal(t, "/rest/issue/A-1", spans[0].Attrs[tracer.AttrIssue])
	assert.ErrorIs(t, spans[1].Err, boom)
	assert.Equal(t, "h", spans[1].Attrs[tracer.AttrLogin])
}

func TestHashIdentity(t *testing.T) {
	assert.Equal(t, "", tracer.HashIdentity(""))
	assert.Len(t, tracer.HashIdentity("admin"), 16)
	assert.Equal(t, tracer.HashIdentity("admin"), tracer.HashIdentity("admin"))
	assert.NotEqual(t, tracer.HashIdentity("admin"), tracer.HashIdentity("root"))
}

func TestAttributeConstructors(t *testing.T) {
	assert.Equal(t, tracer.Attribute{Key: "k", Value: "v"}, tracer.String("k", "v"))
	assert.Equal(t, tracer.Attribute{Key: "k", Value: true}, tracer.Bool("k", true))
	assert.Equal(t, tracer.Attribute{Key: "k", Value: int64(4)}, tracer.Int64("k", 4))
	assert.Equal(t, tracer.Attribute{Key: "k", Value: 4}, tracer.Int("k", 4))
	assert.Equal(t, tracer.Attribute{Key: "k", Value: int64(150)}, tracer.Duration("k", 150*time.Millisecond))
}
