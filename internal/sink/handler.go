package sink

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"issuesink/internal/event"
	"issuesink/pkg/platform/batching"
)

// Handler is a slog.Handler that queues records at or above the minimum
// level and reports them through a Sink in periodic batches.
type Handler struct {
	core   *handlerCore
	attrs  []slog.Attr
	groups []string
}

// handlerCore is shared by a Handler and everything derived from it with
// WithAttrs or WithGroup.
type handlerCore struct {
	sink    *Sink
	level   slog.Leveler
	batcher *batching.Batcher[event.Event]

	closeOnce sync.Once
	closeErr  error
}

var _ slog.Handler = (*Handler)(nil)

type handlerConfig struct {
	level    slog.Leveler
	batching []batching.Option
}

// HandlerOption configures a Handler.
type HandlerOption func(*handlerConfig)

// WithMinLevel drops records below level before they are queued. Default is
// slog.LevelDebug, i.e. everything the logger passes on.
func WithMinLevel(level slog.Leveler) HandlerOption {
	return func(c *handlerConfig) {
		if level != nil {
			c.level = level
		}
	}
}

// WithBatching configures the batcher (size, period, queue limit, breaker).
func WithBatching(opts ...batching.Option) HandlerOption {
	return func(c *handlerConfig) {
		c.batching = append(c.batching, opts...)
	}
}

// NewHandler starts a batcher flushing into s and returns the handler
// feeding it. Close the handler to flush what is queued and release s.
func NewHandler(s *Sink, opts ...HandlerOption) *Handler {
	cfg := handlerConfig{level: slog.LevelDebug}
	for _, opt := range opts {
		opt(&cfg)
	}

	batchOpts := []batching.Option{batching.WithLogger(s.selfLog)}
	if s.metrics != nil {
		batchOpts = append(batchOpts, batching.WithOnDrop(s.metrics.AddDropped))
	}
	batchOpts = append(batchOpts, cfg.batching...)

	core := &handlerCore{
		sink:    s,
		level:   cfg.level,
		batcher: batching.New(s.EmitBatch, batchOpts...),
	}
	core.batcher.Start()
	return &Handler{core: core}
}

// Enabled reports whether level reaches the minimum level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.level.Level()
}

// Handle queues the record. A full queue drops the record silently; it is
// counted by the batcher.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	nested := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	if r.NumAttrs() > 0 {
		attrs := make([]slog.Attr, 0, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, a)
			return true
		})
		nested.AddAttrs(nest(h.groups, attrs)...)
	}

	err := h.core.batcher.Add(event.FromRecord(nested, nil, h.attrs))
	if errors.Is(err, batching.ErrQueueFull) {
		return nil
	}
	return err
}

// WithAttrs returns a handler that adds attrs, qualified by the groups open
// at this point, to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	h2.attrs = append(h2.attrs, nest(h.groups, attrs)...)
	return h2
}

// WithGroup returns a handler that qualifies later attributes with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

// Close stops accepting records, flushes what is queued and closes the sink.
// It is shared by all handlers derived from the same NewHandler call.
func (h *Handler) Close(ctx context.Context) error {
	c := h.core
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.batcher.Stop(ctx), c.sink.Close())
	})
	return c.closeErr
}

// Dropped returns the number of events dropped so far.
func (h *Handler) Dropped() uint64 {
	return h.core.batcher.Dropped()
}

// Stats is a snapshot of the handler's queue.
type Stats struct {
	Pending     int
	Dropped     uint64
	BreakerOpen bool
}

// Stats returns a snapshot of the queue and the flush breaker.
func (h *Handler) Stats() Stats {
	b := h.core.batcher
	return Stats{
		Pending:     b.Pending(),
		Dropped:     b.Dropped(),
		BreakerOpen: b.Breaker().IsOpen(),
	}
}

func (h *Handler) clone() *Handler {
	return &Handler{
		core:   h.core,
		attrs:  slices.Clip(h.attrs),
		groups: slices.Clip(h.groups),
	}
}

// nest wraps attrs in the given groups, innermost last.
func nest(groups []string, attrs []slog.Attr) []slog.Attr {
	for i := len(groups) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: groups[i], Value: slog.GroupValue(attrs...)}}
	}
	return attrs
}
