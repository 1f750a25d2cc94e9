// Package batching provides a periodic batcher: items are queued by any
// goroutine and flushed in batches by a single background worker, on a timer
// or as soon as a full batch is available.
package batching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"issuesink/pkg/platform/circuit"
)

var (
	// ErrStopped is returned by Add after Stop.
	ErrStopped = errors.New("batcher stopped")
	// ErrQueueFull is returned by Add when the queue limit is reached. The
	// item is dropped.
	ErrQueueFull = errors.New("batch queue full")
	// ErrFlushPanic marks a flush that panicked.
	ErrFlushPanic = errors.New("flush panicked")
)

const (
	defaultBatchSize    = 10
	defaultPeriod       = time.Second
	defaultDrainTimeout = 10 * time.Second
)

// FlushFunc emits one batch. A returned error keeps the batch for a retry
// until the breaker opens.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

type settings struct {
	batchSize    int
	period       time.Duration
	queueLimit   int
	drainTimeout time.Duration
	logger       *slog.Logger
	breaker      *circuit.Breaker
	onDrop       func(n int)
}

// Option configures a Batcher.
type Option func(*settings)

// WithBatchSize sets the maximum number of items per flush. Default is 10.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithPeriod sets the interval between timed flushes. Default is 1s.
func WithPeriod(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.period = d
		}
	}
}

// WithQueueLimit bounds the number of queued items. Zero means unbounded.
func WithQueueLimit(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.queueLimit = n
		}
	}
}

// WithDrainTimeout bounds the final flush performed by Stop.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithBreaker sets the breaker that decides when failed batches are dropped.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *settings) {
		s.breaker = b
	}
}

// WithOnDrop registers a callback invoked with the number of items dropped,
// either because the queue was full or because a failed batch was abandoned.
func WithOnDrop(fn func(n int)) Option {
	return func(s *settings) {
		s.onDrop = fn
	}
}

// Batcher queues items and flushes them in batches from one goroutine, so at
// most one flush is in flight.
type Batcher[T any] struct {
	flush FlushFunc[T]
	settings

	mu      sync.Mutex
	queue   []T
	started bool
	stopped bool
	dropped atomic.Uint64

	// retry is the failed batch awaiting its next attempt. Only the worker
	// goroutine touches it.
	retry []T

	full   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	// flushCtx is passed to flushes. Stop does not cancel it; it ends
	// drainTimeout after Stop so an in-flight flush can complete.
	flushCtx    context.Context
	flushCancel context.CancelFunc
	stopOnce    sync.Once
	wg       sync.WaitGroup
}

// New creates a Batcher. Call Start to begin flushing.
func New[T any](flush FlushFunc[T], opts ...Option) *Batcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	flushCtx, flushCancel := context.WithCancel(context.Background())

	b := &Batcher[T]{
		flush: flush,
		settings: settings{
			batchSize:    defaultBatchSize,
			period:       defaultPeriod,
			drainTimeout: defaultDrainTimeout,
			logger:       slog.New(slog.DiscardHandler),
		},
		full:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		flushCtx:    flushCtx,
		flushCancel: flushCancel,
	}
	for _, opt := range opts {
		opt(&b.settings)
	}
	if b.breaker == nil {
		b.breaker = circuit.New("batch-flush")
	}
	return b
}

// Start begins the flush loop in a background goroutine. Calling it more
// than once has no effect.
func (b *Batcher[T]) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.stopped {
		return
	}
	b.started = true
	b.wg.Add(1)
	go b.run()
}

// Add queues item. It never blocks on a flush.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	if b.queueLimit > 0 && len(b.queue) >= b.queueLimit {
		b.mu.Unlock()
		b.drop(1)
		return ErrQueueFull
	}
	b.queue = append(b.queue, item)
	ready := len(b.queue) >= b.batchSize
	b.mu.Unlock()

	if ready {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of queued items not yet handed to a flush.
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Dropped returns the number of items dropped so far.
func (b *Batcher[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Breaker returns the breaker guarding flushes.
func (b *Batcher[T]) Breaker() *circuit.Breaker {
	return b.breaker
}

// Stop rejects further items, lets an in-flight flush complete, flushes what
// is queued and waits for the worker to exit or ctx to end. Flushing stops
// drainTimeout after Stop; what is left then is dropped.
func (b *Batcher[T]) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	b.stopOnce.Do(func() {
		b.cancel()
		time.AfterFunc(b.drainTimeout, b.flushCancel)
		if !started {
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.drain()
			}()
		}
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher[T]) run() {
	defer b.wg.Done()

	timer := time.NewTimer(b.period)
	defer timer.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			return
		case <-b.full:
			if b.breaker.IsOpen() {
				// Wait for the backoff timer.
				continue
			}
			b.flushAvailable()
		case <-timer.C:
			b.flushAvailable()
		}
		timer.Reset(b.breaker.Backoff(b.period))
	}
}

// flushAvailable emits batches until the queue is empty or a flush fails.
func (b *Batcher[T]) flushAvailable() {
	for {
		batch := b.next()
		if len(batch) == 0 {
			return
		}
		if !b.emit(batch) {
			return
		}
	}
}

// emit flushes batch and reports whether it succeeded.
func (b *Batcher[T]) emit(batch []T) bool {
	err := b.safeFlush(b.flushCtx, batch)
	if err == nil {
		b.retry = nil
		if _, change := b.breaker.RecordSuccess(); change.Closed {
			b.logger.Info("batch flushing recovered", "breaker", b.breaker.Name())
		}
		return true
	}

	if b.flushCtx.Err() != nil {
		// Cut off by the drain deadline. The flush may have delivered part of
		// the batch, so it is abandoned rather than replayed.
		b.retry = nil
		b.drop(len(batch))
		b.logger.Error("abandoning batch interrupted by shutdown", "size", len(batch), "error", err)
		return false
	}

	open, change := b.breaker.RecordFailure()
	if change.Opened {
		b.logger.Warn("batch flushing failing repeatedly, backing off", "breaker", b.breaker.Name(), "error", err)
	}
	if open {
		b.retry = nil
		b.drop(len(batch))
		b.logger.Error("dropping batch after repeated failures", "size", len(batch), "error", err)
		return false
	}

	b.retry = batch
	b.logger.Warn("batch flush failed, will retry", "size", len(batch), "error", err)
	return false
}

// next returns the pending retry or up to batchSize queued items.
func (b *Batcher[T]) next() []T {
	if b.retry != nil {
		return b.retry
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(len(b.queue), b.batchSize)
	if n == 0 {
		return nil
	}
	batch := make([]T, n)
	copy(batch, b.queue)
	clear(b.queue[:n])
	b.queue = b.queue[n:]
	if len(b.queue) == 0 {
		b.queue = nil
	}
	return batch
}

// drain flushes everything left after Stop. Failed batches are dropped.
func (b *Batcher[T]) drain() {
	ctx := b.flushCtx
	defer b.flushCancel()

	for {
		batch := b.next()
		if len(batch) == 0 {
			return
		}
		b.retry = nil
		if err := b.safeFlush(ctx, batch); err != nil {
			b.drop(len(batch))
			b.logger.Error("failed to flush batch during drain", "size", len(batch), "error", err)
			if ctx.Err() != nil {
				b.dropRemaining()
				return
			}
		}
	}
}

// safeFlush runs flush, turning a panic into an error so a faulty callback
// fails the batch instead of the worker goroutine.
func (b *Batcher[T]) safeFlush(ctx context.Context, batch []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFlushPanic, r)
		}
	}()
	return b.flush(ctx, batch)
}

func (b *Batcher[T]) dropRemaining() {
	b.mu.Lock()
	n := len(b.queue)
	b.queue = nil
	b.mu.Unlock()
	if n > 0 {
		b.drop(n)
		b.logger.Error("drain timed out, dropping queued items", "size", n)
	}
}

func (b *Batcher[T]) drop(n int) {
	b.dropped.Add(uint64(n))
	if b.onDrop != nil {
		b.onDrop(n)
	}
}
