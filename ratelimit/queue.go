package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stateset/stateset-mcp-server-sub001/observe"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueClosed is returned for operations enqueued after Close.
	ErrQueueClosed = errors.New("ratelimit: queue is closed")
)

// quotaThreshold is the fraction of the hourly quota that may be consumed
// in the trailing window before the drain loop starts sleeping.
const quotaThreshold = 0.9

// Config configures a RequestQueue.
type Config struct {
	// RequestsPerHour is the hourly quota.
	// Default: 1000
	RequestsPerHour int

	// MinInterval is the shortest pause between throttled re-checks.
	// Default: 100ms
	MinInterval time.Duration

	// Logger receives queue lifecycle logs. Default: no-op.
	Logger observe.Logger

	// Metrics records executed operations. Default: no-op.
	Metrics observe.Metrics
}

// operation is one queued thunk and the channel its caller waits on.
type operation struct {
	label string
	op    func(context.Context) error
	done  chan error
}

// RequestQueue is a FIFO queue of outbound operations paced by a
// sliding-window hourly quota.
type RequestQueue struct {
	config Config

	mu         sync.Mutex
	pending    []*operation
	processing bool // guards the single drain goroutine
	window     []time.Time
	lastStart  time.Time
	executed   int64
	failed     int64
	avgLatency time.Duration
	closed     bool

	closedCh chan struct{}
}

// NewRequestQueue creates a new request queue.
func NewRequestQueue(config Config) *RequestQueue {
	// Apply defaults
	if config.RequestsPerHour <= 0 {
		config.RequestsPerHour = 1000
	}
	if config.MinInterval <= 0 {
		config.MinInterval = 100 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	config.Logger = config.Logger.WithComponent("ratelimit")

	return &RequestQueue{
		config:   config,
		closedCh: make(chan struct{}),
	}
}

// Enqueue adds op to the queue and blocks until it has run or ctx is
// done. A caller abandoning the wait does not cancel the queued
// operation; it still runs and its result is discarded.
func (q *RequestQueue) Enqueue(ctx context.Context, label string, op func(context.Context) error) error {
	item := &operation{
		label: label,
		op:    op,
		done:  make(chan error, 1), // buffered so delivery never blocks the drain loop
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, item)
	if !q.processing {
		q.processing = true
		go q.drain()
	}
	q.mu.Unlock()

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain executes pending operations FIFO, sleeping whenever the trailing
// hour already holds 90% of the quota. Exactly one drain goroutine runs
// at a time.
func (q *RequestQueue) drain() {
	for {
		q.mu.Lock()
		if q.closed {
			pending := q.pending
			q.pending = nil
			q.processing = false
			q.mu.Unlock()
			for _, item := range pending {
				item.done <- ErrQueueClosed
			}
			return
		}
		if len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}

		q.pruneWindowLocked(time.Now())
		if float64(len(q.window)) >= quotaThreshold*float64(q.config.RequestsPerHour) {
			wait := q.throttleDelayLocked()
			q.mu.Unlock()

			select {
			case <-time.After(wait):
			case <-q.closedCh:
			}
			continue
		}

		item := q.pending[0]
		q.pending = q.pending[1:]
		start := time.Now()
		q.window = append(q.window, start)
		q.lastStart = start
		q.mu.Unlock()

		err := item.op(context.Background())
		elapsed := time.Since(start)

		q.mu.Lock()
		q.executed++
		if err != nil {
			q.failed++
		}
		q.updateLatencyLocked(elapsed)
		q.mu.Unlock()

		q.config.Metrics.RecordCall(context.Background(),
			observe.CallMeta{Component: "ratelimit", Operation: item.label}, elapsed, err)
		if err != nil {
			q.config.Logger.Debug(context.Background(), "queued operation failed",
				observe.Field{Key: "label", Value: item.label},
				observe.Field{Key: "error", Value: err.Error()},
			)
		}

		item.done <- err
	}
}

// throttleDelayLocked computes how long to sleep when the window is full:
// the per-request interval implied by the quota, less the time already
// elapsed since the last start, floored at MinInterval.
func (q *RequestQueue) throttleDelayLocked() time.Duration {
	hourlyInterval := time.Hour / time.Duration(q.config.RequestsPerHour)
	wait := hourlyInterval - time.Since(q.lastStart)
	if wait < q.config.MinInterval {
		wait = q.config.MinInterval
	}
	return wait
}

// pruneWindowLocked drops start timestamps older than one hour.
func (q *RequestQueue) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(q.window) && !q.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		q.window = append(q.window[:0], q.window[i:]...)
	}
}

// updateLatencyLocked folds one sample into the moving latency average.
func (q *RequestQueue) updateLatencyLocked(d time.Duration) {
	if q.avgLatency == 0 {
		q.avgLatency = d
		return
	}
	// Exponentially weighted, one-fifth weight to the newest sample.
	q.avgLatency = (q.avgLatency*4 + d) / 5
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	QueueDepth      int
	Executed        int64
	Failed          int64
	WindowCount     int           // starts in the trailing hour
	AvgLatency      time.Duration // moving average of thunk durations
	RequestsPerHour int
}

// Stats returns a snapshot of the queue.
func (q *RequestQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneWindowLocked(time.Now())

	return Stats{
		QueueDepth:      len(q.pending),
		Executed:        q.executed,
		Failed:          q.failed,
		WindowCount:     len(q.window),
		AvgLatency:      q.avgLatency,
		RequestsPerHour: q.config.RequestsPerHour,
	}
}

// Close stops the queue. Pending operations are rejected with
// ErrQueueClosed. Close is idempotent.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.closedCh)
	var pending []*operation
	// A running drain goroutine rejects the queue itself on its next pass.
	if !q.processing {
		pending = q.pending
		q.pending = nil
	}
	q.mu.Unlock()

	for _, item := range pending {
		item.done <- ErrQueueClosed
	}
}
