// Package queue serializes outbound partner calls and spaces them by a minimum delay.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Priority orders items across classes; High is always dequeued before Normal
type Priority int

const (
	Normal Priority = iota
	High
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "normal"
}

const (
	DefaultMinDelay = 10 * time.Second
	waitWindow      = 100
)

// ErrClosed is returned for items enqueued after, or still pending at, Close
var ErrClosed = errors.New("request queue closed")

// Operation is one unit of partner work
type Operation func(ctx context.Context) error

// Config holds queue settings
type Config struct {
	MinDelay time.Duration
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Processed int64         `json:"processed"`
	Failed    int64         `json:"failed"`
	Skipped   int64         `json:"skipped"`
	Depth     int           `json:"depth"`
	AvgWait   time.Duration `json:"avg_wait"`
}

type item struct {
	ctx        context.Context
	op         Operation
	priority   Priority
	enqueuedAt time.Time
	done       chan error
}

// Queue runs at most one operation at a time. Consecutive starts are separated by at
// least MinDelay regardless of how many callers are waiting.
type Queue struct {
	minDelay time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	high      []*item
	normal    []*item
	closed    bool
	started   bool
	lastStart time.Time
	processed int64
	failed    int64
	skipped   int64
	waits     []time.Duration
	waitIdx   int

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a queue. Call Start to launch the worker.
func New(cfg Config, logger *zap.Logger) *Queue {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		minDelay: cfg.MinDelay,
		logger:   logger,
		waits:    make([]time.Duration, 0, waitWindow),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
}

// Start launches the single worker loop. It is safe to call more than once.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	q.wg.Add(1)
	go q.run()
}

// Close stops the worker after the in-flight operation and fails pending items
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	pending := append(q.high, q.normal...)
	q.high, q.normal = nil, nil
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- ErrClosed
	}
}

// Enqueue schedules op and waits for its result. If ctx ends first Enqueue returns
// ctx.Err(); an operation that already started still runs to completion, and one that
// has not started is skipped.
func (q *Queue) Enqueue(ctx context.Context, priority Priority, op Operation) error {
	it := &item{
		ctx:        ctx,
		op:         op,
		priority:   priority,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if priority == High {
		q.high = append(q.high, it)
	} else {
		q.normal = append(q.normal, it)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		if !q.waitForWork() {
			return
		}
		if !q.waitForSlot() {
			return
		}

		it := q.pop()
		if it == nil {
			continue
		}
		if err := it.ctx.Err(); err != nil {
			q.mu.Lock()
			q.skipped++
			q.mu.Unlock()
			it.done <- err
			continue
		}
		q.dispatch(it)
	}
}

func (q *Queue) waitForWork() bool {
	for {
		q.mu.Lock()
		n := len(q.high) + len(q.normal)
		q.mu.Unlock()
		if n > 0 {
			return true
		}
		select {
		case <-q.wake:
		case <-q.quit:
			return false
		}
	}
}

// waitForSlot blocks until MinDelay has elapsed since the previous start
func (q *Queue) waitForSlot() bool {
	q.mu.Lock()
	last := q.lastStart
	q.mu.Unlock()
	if last.IsZero() {
		return true
	}
	delay := q.minDelay - time.Since(last)
	if delay <= 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.quit:
		return false
	}
}

func (q *Queue) pop() *item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var it *item
	switch {
	case len(q.high) > 0:
		it, q.high = q.high[0], q.high[1:]
	case len(q.normal) > 0:
		it, q.normal = q.normal[0], q.normal[1:]
	}
	return it
}

func (q *Queue) dispatch(it *item) {
	start := time.Now()
	wait := start.Sub(it.enqueuedAt)

	q.mu.Lock()
	q.lastStart = start
	q.recordWait(wait)
	q.mu.Unlock()

	q.logger.Debug("Dispatching partner operation",
		zap.String("priority", it.priority.String()),
		zap.Duration("wait", wait),
	)

	// In-flight calls are not cancelled when the caller stops waiting.
	err := safeRun(context.WithoutCancel(it.ctx), it.op)

	q.mu.Lock()
	if err != nil {
		q.failed++
	} else {
		q.processed++
	}
	q.mu.Unlock()

	it.done <- err
}

func safeRun(ctx context.Context, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// recordWait must be called with mu held
func (q *Queue) recordWait(d time.Duration) {
	if len(q.waits) < waitWindow {
		q.waits = append(q.waits, d)
		return
	}
	q.waits[q.waitIdx] = d
	q.waitIdx = (q.waitIdx + 1) % waitWindow
}

// Stats returns the queue counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Processed: q.processed,
		Failed:    q.failed,
		Skipped:   q.skipped,
		Depth:     len(q.high) + len(q.normal),
	}
	if len(q.waits) > 0 {
		var total time.Duration
		for _, w := range q.waits {
			total += w
		}
		s.AvgWait = total / time.Duration(len(q.waits))
	}
	return s
}
