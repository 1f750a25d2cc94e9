package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"issuesink/internal/platform/metrics"
	dErrors "issuesink/pkg/domain-errors"
	"issuesink/pkg/platform/httputil"
)

const maxLine = 1 << 20

// Result counts the lines processed by Run.
type Result struct {
	Accepted int `json:"accepted"`
	Filtered int `json:"filtered"`
	Rejected int `json:"rejected"`
}

// Runner reads log lines and hands the decoded records to a handler.
type Runner struct {
	handler slog.Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for rejected lines.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics counts lines by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithClock sets the time assigned to lines without one.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a Runner feeding handler.
func New(handler slog.Handler, opts ...Option) *Runner {
	r := &Runner{
		handler: handler,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes src until EOF or ctx is done. Malformed lines are logged and
// skipped; a handler error stops the run.
func (r *Runner) Run(ctx context.Context, src io.Reader) (Result, error) {
	var res Result
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		rec, err := Decode(line, r.now)
		if err != nil {
			res.Rejected++
			r.count(metrics.LineRejected)
			r.logger.WarnContext(ctx, "skipping malformed log line", "line", lineNo, "error", err)
			continue
		}
		if !r.handler.Enabled(ctx, rec.Level) {
			res.Filtered++
			r.count(metrics.LineFiltered)
			continue
		}
		if err := r.handler.Handle(ctx, rec); err != nil {
			return res, dErrors.Wrap(err, dErrors.CodeClosed, "handle record")
		}
		res.Accepted++
		r.count(metrics.LineAccepted)
	}
	if err := sc.Err(); err != nil {
		return res, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read log lines")
	}
	return res, nil
}

// ServeHTTP accepts a newline-delimited JSON body and reports the counts.
func (r *Runner) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	res, err := r.Run(req.Context(), req.Body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, res)
}

func (r *Runner) count(result string) {
	if r.metrics != nil {
		r.metrics.IncIngestLine(result)
	}
}
