package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedQueue(t *testing.T, minDelay time.Duration) *Queue {
	t.Helper()
	q := New(Config{MinDelay: minDelay}, nil)
	q.Start()
	t.Cleanup(q.Close)
	return q
}

func TestQueue_SpacesConsecutiveStarts(t *testing.T) {
	const delay = 40 * time.Millisecond
	q := newStartedQueue(t, delay)

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Enqueue(context.Background(), Normal, func(ctx context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, delay, "gap %d was %s", i, gap)
	}

	stats := q.Stats()
	assert.Equal(t, int64(4), stats.Processed)
	assert.Equal(t, 0, stats.Depth)
}

func TestQueue_HighPriorityJumpsNormal(t *testing.T) {
	q := newStartedQueue(t, 0)

	release := make(chan struct{})
	blocking := make(chan struct{})
	go func() {
		_ = q.Enqueue(context.Background(), Normal, func(ctx context.Context) error {
			close(blocking)
			<-release
			return nil
		})
	}()
	<-blocking

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	record := func(name string) Operation {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	enqueue := func(name string, p Priority, depth int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), p, record(name))
		}()
		require.Eventually(t, func() bool {
			return q.Stats().Depth == depth
		}, time.Second, time.Millisecond)
	}

	enqueue("normal-1", Normal, 1)
	enqueue("normal-2", Normal, 2)
	enqueue("high-1", High, 3)

	close(release)
	wg.Wait()

	assert.Equal(t, []string{"high-1", "normal-1", "normal-2"}, order)
}

func TestQueue_FailureIsIsolatedPerItem(t *testing.T) {
	q := newStartedQueue(t, 0)
	boom := errors.New("boom")

	err := q.Enqueue(context.Background(), Normal, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = q.Enqueue(context.Background(), Normal, func(ctx context.Context) error { panic("bad op") })
	assert.ErrorContains(t, err, "panicked")

	err = q.Enqueue(context.Background(), Normal, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestQueue_CallerCancellationSkipsPendingItem(t *testing.T) {
	q := newStartedQueue(t, 200*time.Millisecond)

	require.NoError(t, q.Enqueue(context.Background(), Normal, func(ctx context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := q.Enqueue(ctx, Normal, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Eventually(t, func() bool { return q.Stats().Skipped == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-ran:
		t.Fatal("cancelled item must not run")
	default:
	}
}

func TestQueue_ClosedRejects(t *testing.T) {
	q := New(Config{}, nil)
	q.Start()
	q.Close()

	err := q.Enqueue(context.Background(), Normal, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_AverageWait(t *testing.T) {
	q := newStartedQueue(t, 30*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), Normal, func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	assert.Greater(t, q.Stats().AvgWait, time.Duration(0))
}
