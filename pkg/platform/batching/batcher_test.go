package batching

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuesink/pkg/platform/circuit"
)

// flushRecorder records delivered batches and can fail on demand.
type flushRecorder struct {
	mu       sync.Mutex
	batches  [][]int
	attempts int
	failN    int // fail the first failN attempts; -1 fails forever
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *flushRecorder) flush(_ context.Context, batch []int) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failN < 0 || r.attempts <= r.failN {
		return errors.New("tracker unavailable")
	}
	r.batches = append(r.batches, append([]int(nil), batch...))
	return nil
}

func (r *flushRecorder) delivered() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *flushRecorder) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func stop(t *testing.T, b *Batcher[int]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))
}

func TestFlushesWhenBatchIsFull(t *testing.T) {
	rec := &flushRecorder{}
	b := New(rec.flush, WithBatchSize(3), WithPeriod(time.Hour))
	b.Start()
	defer stop(t, b)

	for i := range 3 {
		require.NoError(t, b.Add(i))
	}

	assert.Eventually(t, func() bool { return rec.batchCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2}, rec.delivered())
}

func TestFlushesOnPeriod(t *testing.T) {
	rec := &flushRecorder{}
	b := New(rec.flush, WithBatchSize(100), WithPeriod(10*time.Millisecond))
	b.Start()
	defer stop(t, b)

	require.NoError(t, b.Add(42))

	assert.Eventually(t, func() bool { return len(rec.delivered()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Pending())
}

func TestSplitsQueueIntoBatchesInOrder(t *testing.T) {
	rec := &flushRecorder{}
	b := New(rec.flush, WithBatchSize(4), WithPeriod(time.Hour))
	for i := range 10 {
		require.NoError(t, b.Add(i))
	}
	stop(t, b)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, rec.delivered())
	assert.Equal(t, 3, rec.batchCount())
}

func TestRetriesFailedBatch(t *testing.T) {
	rec := &flushRecorder{failN: 2}
	b := New(rec.flush,
		WithBatchSize(10),
		WithPeriod(5*time.Millisecond),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(5))),
	)
	b.Start()
	defer stop(t, b)

	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(2))

	assert.Eventually(t, func() bool { return rec.batchCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2}, rec.delivered())
	assert.Zero(t, b.Dropped())
}

func TestDropsBatchOnceBreakerOpens(t *testing.T) {
	var onDrop atomic.Int64
	rec := &flushRecorder{failN: -1}
	b := New(rec.flush,
		WithBatchSize(10),
		WithPeriod(5*time.Millisecond),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithMaxBackoff(10*time.Millisecond))),
		WithOnDrop(func(n int) { onDrop.Add(int64(n)) }),
	)
	b.Start()

	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(2))
	require.NoError(t, b.Add(3))

	assert.Eventually(t, func() bool { return b.Dropped() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, onDrop.Load())
	assert.Empty(t, rec.delivered())
	stop(t, b)
}

func TestQueueLimitDropsNewItems(t *testing.T) {
	rec := &flushRecorder{}
	b := New(rec.flush, WithQueueLimit(2), WithPeriod(time.Hour))

	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(2))
	assert.ErrorIs(t, b.Add(3), ErrQueueFull)
	assert.EqualValues(t, 1, b.Dropped())
	assert.Equal(t, 2, b.Pending())

	stop(t, b)
	assert.Equal(t, []int{1, 2}, rec.delivered())
}

func TestStopDrainsAndRejects(t *testing.T) {
	rec := &flushRecorder{}
	b := New(rec.flush, WithBatchSize(10), WithPeriod(time.Hour))
	b.Start()

	for i := range 5 {
		require.NoError(t, b.Add(i))
	}
	stop(t, b)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, rec.delivered())
	assert.ErrorIs(t, b.Add(5), ErrStopped)

	// Stopping twice is harmless.
	stop(t, b)
}

func TestDrainDropsFailedBatches(t *testing.T) {
	rec := &flushRecorder{failN: -1}
	b := New(rec.flush, WithBatchSize(2), WithPeriod(time.Hour))
	for i := range 3 {
		require.NoError(t, b.Add(i))
	}
	stop(t, b)

	assert.EqualValues(t, 3, b.Dropped())
	assert.Zero(t, b.Pending())
}

func TestStopHonoursContext(t *testing.T) {
	release := make(chan struct{})
	b := New(func(context.Context, []int) error {
		<-release
		return nil
	}, WithPeriod(time.Hour))
	require.NoError(t, b.Add(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Stop(ctx), context.DeadlineExceeded)

	close(release)
	stop(t, b)
}

func TestAtMostOneFlushInFlight(t *testing.T) {
	rec := &flushRecorder{}
	b := New(rec.flush, WithBatchSize(2), WithPeriod(time.Millisecond))
	b.Start()

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				_ = b.Add(g*100 + i)
			}
		}()
	}
	wg.Wait()
	stop(t, b)

	assert.Len(t, rec.delivered(), 100)
	assert.EqualValues(t, 1, rec.maxSeen.Load())
}

func TestStopLetsInFlightFlushComplete(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var flushErr atomic.Value
	b := New(func(ctx context.Context, batch []int) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		if err := ctx.Err(); err != nil {
			flushErr.Store(err)
		}
		return nil
	}, WithBatchSize(2), WithPeriod(time.Hour))
	b.Start()

	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(2))
	<-started

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- b.Stop(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	assert.EqualValues(t, 1, calls.Load(), "the in-flight batch must not be flushed again")
	assert.Nil(t, flushErr.Load(), "Stop must not cancel the in-flight flush")
	assert.Zero(t, b.Dropped())
}

func TestDrainDeadlineAbandonsInterruptedFlush(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	b := New(func(ctx context.Context, batch []int) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithBatchSize(2), WithPeriod(time.Hour), WithDrainTimeout(20*time.Millisecond))
	b.Start()

	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(2))
	<-started
	require.NoError(t, b.Add(3))

	stop(t, b)

	assert.EqualValues(t, 3, b.Dropped())
	assert.Zero(t, b.Pending())
	// The interrupted batch is dropped; only the queued remainder is tried.
	assert.EqualValues(t, 2, calls.Load())
}

func TestPanickingFlushIsRetried(t *testing.T) {
	var calls atomic.Int32
	var delivered atomic.Int32
	b := New(func(_ context.Context, batch []int) error {
		if calls.Add(1) == 1 {
			panic("formatter exploded")
		}
		delivered.Add(int32(len(batch)))
		return nil
	}, WithBatchSize(10), WithPeriod(5*time.Millisecond))
	b.Start()
	defer stop(t, b)

	require.NoError(t, b.Add(1))

	assert.Eventually(t, func() bool { return delivered.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Dropped())
}

func TestPanicDuringDrainDropsBatch(t *testing.T) {
	b := New(func(context.Context, []int) error {
		panic("formatter exploded")
	}, WithPeriod(time.Hour))
	require.NoError(t, b.Add(1))

	stop(t, b)
	assert.EqualValues(t, 1, b.Dropped())
}
