// Package sink turns batches of log events into tracker issues: one issue per
// event, followed by the configured post-creation commands.
package sink

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"issuesink/internal/event"
	"issuesink/internal/reporting"
	"issuesink/internal/sink/metrics"
	"issuesink/internal/tracer"
	"issuesink/internal/youtrack"
	dErrors "issuesink/pkg/domain-errors"
)

// Sink runs the create-then-commands workflow. EmitBatch must not be called
// concurrently; the batcher in Handler guarantees a single flush in flight.
type Sink struct {
	reporter youtrack.Reporter
	config   *reporting.Configuration
	selfLog  *slog.Logger
	tracer   tracer.Tracer
	metrics  *metrics.Metrics

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Sink.
type Option func(*Sink)

// WithSelfLog sets the diagnostics logger for operability traces such as
// created issues and swallowed command failures.
func WithSelfLog(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.selfLog = logger
		}
	}
}

// WithTracer sets the tracer for batch spans.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Sink) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) {
		s.metrics = m
	}
}

// New builds the reporting configuration with configure and returns a Sink
// reporting through reporter. Configuration errors surface here, never at
// flush time.
func New(reporter youtrack.Reporter, configure func(*reporting.Builder), opts ...Option) (*Sink, error) {
	if configure == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "configure must not be nil")
	}
	b := reporting.NewBuilder()
	configure(b)
	cfg, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewWithConfiguration(reporter, cfg, opts...)
}

// NewWithConfiguration returns a Sink for an already built configuration.
func NewWithConfiguration(reporter youtrack.Reporter, cfg *reporting.Configuration, opts ...Option) (*Sink, error) {
	if reporter == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reporter must not be nil")
	}
	if cfg == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "configuration must not be nil")
	}

	s := &Sink{
		reporter: reporter,
		config:   cfg,
		selfLog:  slog.New(slog.DiscardHandler),
		tracer:   tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Configuration returns the reporting policy in use.
func (s *Sink) Configuration() *reporting.Configuration {
	return s.config
}

// EmitBatch reports events in order. The first creation failure, or failure
// of a command registered with FailSilently(false), aborts the batch and is
// returned; issues already created stay created.
func (s *Sink) EmitBatch(ctx context.Context, events []event.Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, tracer.SpanEmitBatch,
		tracer.String(tracer.AttrBatchID, batchID),
		tracer.Int(tracer.AttrBatchSize, len(events)),
	)
	start := time.Now()
	defer func() {
		span.End(err)
		if s.metrics != nil {
			s.metrics.ObserveBatchSize(len(events))
			s.metrics.ObserveFlushDuration(time.Since(start).Seconds())
			if err != nil {
				s.metrics.IncFlushFailures()
			}
		}
	}()

	for i, e := range events {
		if err := s.safeEmit(ctx, batchID, e); err != nil {
			s.selfLog.LogAttrs(ctx, slog.LevelError, "failed to report event",
				slog.String("batch_id", batchID),
				slog.Int("index", i),
				slog.Any("error", err),
			)
			return err
		}
	}
	return nil
}

// safeEmit runs emit, turning a panic in a formatter or issue type resolver
// into an error that aborts the batch.
func (s *Sink) safeEmit(ctx context.Context, batchID string, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = dErrors.Newf(dErrors.CodeInternal, "reporting event panicked: %v", r)
		}
	}()
	return s.emit(ctx, batchID, e)
}

// emit creates the issue for e and runs its commands in registration order.
func (s *Sink) emit(ctx context.Context, batchID string, e event.Event) error {
	issueType := s.config.IssueType(e)
	issue, err := s.reporter.CreateIssue(ctx,
		s.config.Project(),
		s.config.Summary(e),
		s.config.Description(e),
		issueType,
	)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncCreationFailures()
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.IncIssuesCreated()
	}
	s.selfLog.LogAttrs(ctx, slog.LevelInfo, "created issue",
		slog.String("issue", issueString(issue)),
		slog.String("batch_id", batchID),
	)

	for _, p := range s.config.Commands() {
		cmd, err := s.runCommand(ctx, p, e, issue)
		if err != nil {
			if s.metrics != nil {
				s.metrics.IncCommandFailures(p.FailSilently)
			}
			if !p.FailSilently {
				return err
			}
			s.selfLog.LogAttrs(ctx, slog.LevelWarn, "command failed",
				slog.String("issue", issueString(issue)),
				slog.String("command", cmd.Text),
				slog.Any("error", err),
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.IncCommandsExecuted()
		}
	}
	return nil
}

// runCommand resolves and executes one provider's command. A panic in the
// provider counts as that command's failure.
func (s *Sink) runCommand(ctx context.Context, p reporting.CommandProvider, e event.Event, issue *url.URL) (cmd reporting.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = dErrors.Newf(dErrors.CodeCommand, "command provider panicked: %v", r)
		}
	}()
	cmd = p.Resolve(e, issue)
	_, err = s.reporter.ExecuteAgainstIssue(ctx, issue, cmd.Text, cmd.Comment)
	return cmd, err
}

// Close releases the reporter when it owns resources. Only the first call
// has an effect; later calls return the same result.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		if c, ok := s.reporter.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}

func issueString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
