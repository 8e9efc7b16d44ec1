package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stateset/stateset-mcp-server-sub001/observe"
)

// Sentinel errors for batch operations.
var (
	// ErrProcessorClosed is returned for operations added after Close.
	ErrProcessorClosed = errors.New("batch: processor is closed")

	// ErrOperationTimeout is returned when an operation exceeds its
	// timeout while still queued.
	ErrOperationTimeout = errors.New("batch: operation timed out in queue")

	// ErrMissingResult is returned when the processor function produced
	// no result at an operation's position.
	ErrMissingResult = errors.New("batch: processor returned no result for operation")

	// ErrMaxRetriesExceeded is returned when a whole-batch failure
	// exhausts an operation's retries.
	ErrMaxRetriesExceeded = errors.New("batch: max retries exceeded")
)

// Thresholds for adaptive sizing and urgency-driven flushes.
const (
	urgentPriority  = 0.8  // priority above which an item counts as urgent
	urgentFraction  = 0.1  // fraction of urgent items that forces a flush
	agingFraction   = 0.8  // fraction of an item's timeout that forces a flush
	fastBatch       = 100 * time.Millisecond
	slowBatch       = time.Second
	sizeGrowFactor  = 1.2
	sizeShrinkRatio = 0.8
)

// ProcessorFunc handles one batch of items. Result positions map 1:1 to
// the input slice.
type ProcessorFunc[T, R any] func(ctx context.Context, items []T) ([]R, error)

// Observer receives batch lifecycle notifications.
type Observer interface {
	BatchProcessed(size int, elapsed time.Duration, err error)
}

// Config configures a Processor.
type Config struct {
	// MaxBatchSize is the configured ceiling for one batch.
	// Default: 10
	MaxBatchSize int

	// MaxQueueSize is the queue capacity used to compute fullness for
	// the adaptive wait window.
	// Default: 1000
	MaxQueueSize int

	// MaxWaitTime is the base wait before a partial batch flushes.
	// Default: 1s
	MaxWaitTime time.Duration

	// DefaultTimeout applies to operations without an explicit timeout.
	// Default: 30s
	DefaultTimeout time.Duration

	// DefaultMaxRetries applies to operations without an explicit limit.
	// Default: 3
	DefaultMaxRetries int

	// Observer receives batch notifications. Optional.
	Observer Observer

	// Logger receives processor logs. Default: no-op.
	Logger observe.Logger

	// Metrics records batch outcomes. Default: no-op.
	Metrics observe.Metrics
}

// Options configures one operation.
type Options struct {
	// Category labels the operation for telemetry.
	Category string

	// Priority orders the operation within the queue, in [0, 1].
	// Higher priorities are processed first.
	Priority float64

	// Timeout bounds how long the operation may wait in the queue.
	Timeout time.Duration

	// MaxRetries bounds re-queues after whole-batch failures.
	MaxRetries int
}

type result[R any] struct {
	value R
	err   error
}

// operation is one queued item and its caller's result channel.
type operation[T, R any] struct {
	id         string
	data       T
	category   string
	priority   float64
	enqueuedAt time.Time
	retries    int
	maxRetries int
	timeout    time.Duration
	done       chan result[R]
}

func (o *operation[T, R]) resolve(v R) {
	o.done <- result[R]{value: v}
}

func (o *operation[T, R]) reject(err error) {
	var zero R
	o.done <- result[R]{value: zero, err: err}
}

// Processor batches operations adaptively.
type Processor[T, R any] struct {
	config  Config
	process ProcessorFunc[T, R]

	mu            sync.Mutex
	queue         []*operation[T, R]
	processing    bool // guards the single batch goroutine
	timer         *time.Timer
	adaptiveSize  int
	avgProcessing time.Duration
	processed     int64
	failed        int64
	batches       int64
	retried       int64
	closed        bool
}

// New creates a Processor that hands batches to process.
func New[T, R any](process ProcessorFunc[T, R], config Config) (*Processor[T, R], error) {
	if process == nil {
		return nil, errors.New("batch: processor function is required")
	}

	// Apply defaults
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 10
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 1000
	}
	if config.MaxWaitTime <= 0 {
		config.MaxWaitTime = time.Second
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.DefaultMaxRetries <= 0 {
		config.DefaultMaxRetries = 3
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	config.Logger = config.Logger.WithComponent("batch")

	return &Processor[T, R]{
		config:       config,
		process:      process,
		adaptiveSize: config.MaxBatchSize,
	}, nil
}

// Add enqueues one operation and blocks until it resolves or ctx is
// done. A caller abandoning the wait does not remove the queued item; it
// is still processed and its result discarded.
func (p *Processor[T, R]) Add(ctx context.Context, data T, opts Options) (R, error) {
	var zero R

	op := &operation[T, R]{
		id:         uuid.NewString(),
		data:       data,
		category:   opts.Category,
		priority:   opts.Priority,
		enqueuedAt: time.Now(),
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		done:       make(chan result[R], 1), // buffered so delivery never blocks the batch loop
	}
	if op.timeout <= 0 {
		op.timeout = p.config.DefaultTimeout
	}
	if op.maxRetries <= 0 {
		op.maxRetries = p.config.DefaultMaxRetries
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrProcessorClosed
	}
	p.queue = append(p.queue, op)
	p.scheduleLocked()
	p.mu.Unlock()

	select {
	case res := <-op.done:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// AddBatch enqueues the items individually and waits for all of them.
// Results map positionally; the first failure is returned alongside the
// partial results.
func (p *Processor[T, R]) AddBatch(ctx context.Context, items []T, opts Options) ([]R, error) {
	results := make([]R, len(items))

	var g errgroup.Group
	for i := range items {
		i := i
		g.Go(func() error {
			r, err := p.Add(ctx, items[i], opts)
			results[i] = r
			return err
		})
	}
	err := g.Wait()
	return results, err
}

// scheduleLocked decides whether the new queue state warrants an
// immediate flush or a timer. Caller holds p.mu.
func (p *Processor[T, R]) scheduleLocked() {
	if p.processing {
		return // the batch loop re-evaluates when it finishes
	}
	if p.shouldFlushLocked(time.Now()) {
		p.startBatchLocked()
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.adaptiveWaitLocked(), p.flushTimer)
	}
}

// shouldFlushLocked reports whether a batch must be cut now: the queue
// reached the adaptive size, enough urgent work is waiting, or an item is
// close to its timeout.
func (p *Processor[T, R]) shouldFlushLocked(now time.Time) bool {
	if len(p.queue) == 0 {
		return false
	}
	if len(p.queue) >= p.adaptiveSize {
		return true
	}

	urgent := 0
	for _, op := range p.queue {
		if op.priority > urgentPriority {
			urgent++
		}
		if now.Sub(op.enqueuedAt) > time.Duration(agingFraction*float64(op.timeout)) {
			return true
		}
	}
	return float64(urgent) >= urgentFraction*float64(len(p.queue))
}

// adaptiveWaitLocked shrinks the base wait proportionally to queue
// fullness once the queue is more than half full.
func (p *Processor[T, R]) adaptiveWaitLocked() time.Duration {
	wait := p.config.MaxWaitTime
	ratio := float64(len(p.queue)) / float64(p.config.MaxQueueSize)
	if ratio > 0.5 {
		wait = time.Duration(float64(wait) * (1 - ratio))
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// startBatchLocked launches the single batch goroutine. Caller holds p.mu.
func (p *Processor[T, R]) startBatchLocked() {
	p.processing = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	go p.run()
}

// flushTimer fires when a partial batch has waited long enough.
func (p *Processor[T, R]) flushTimer() {
	p.mu.Lock()
	p.timer = nil
	if p.closed || p.processing || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	p.startBatchLocked()
	p.mu.Unlock()
}

// run processes batches until the queue no longer demands an immediate
// flush. Only one run goroutine exists at a time.
func (p *Processor[T, R]) run() {
	for {
		batch := p.cutBatch()
		if len(batch) == 0 {
			return
		}

		items := make([]T, len(batch))
		for i, op := range batch {
			items[i] = op.data
		}

		start := time.Now()
		results, err := p.process(context.Background(), items)
		elapsed := time.Since(start)

		if err != nil {
			p.retryOrReject(batch, err)
		} else {
			p.deliver(batch, results)
		}

		p.mu.Lock()
		p.batches++
		p.updateAdaptiveSizeLocked(elapsed)
		p.mu.Unlock()

		// A cut can mix categories; record each one present.
		seen := make(map[string]struct{}, 1)
		for _, op := range batch {
			if _, ok := seen[op.category]; ok {
				continue
			}
			seen[op.category] = struct{}{}
			p.config.Metrics.RecordCall(context.Background(),
				observe.CallMeta{Component: "batch", Operation: op.category}, elapsed, err)
		}
		if p.config.Observer != nil {
			p.config.Observer.BatchProcessed(len(batch), elapsed, err)
		}

		p.mu.Lock()
		if p.closed {
			p.rejectAllLocked(ErrProcessorClosed)
			p.processing = false
			p.mu.Unlock()
			return
		}
		if !p.shouldFlushLocked(time.Now()) {
			if len(p.queue) > 0 && p.timer == nil {
				p.timer = time.AfterFunc(p.adaptiveWaitLocked(), p.flushTimer)
			}
			p.processing = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

// cutBatch sorts the queue by priority, rejects items already past their
// timeout, and removes up to the adaptive batch size from the front.
func (p *Processor[T, R]) cutBatch() []*operation[T, R] {
	p.mu.Lock()

	// Stable sort keeps FIFO order among equal priorities.
	sort.SliceStable(p.queue, func(i, j int) bool {
		return p.queue[i].priority > p.queue[j].priority
	})

	now := time.Now()
	var expired []*operation[T, R]
	kept := p.queue[:0]
	for _, op := range p.queue {
		if now.Sub(op.enqueuedAt) > op.timeout {
			expired = append(expired, op)
		} else {
			kept = append(kept, op)
		}
	}
	p.queue = kept

	size := p.adaptiveSize
	if size > len(p.queue) {
		size = len(p.queue)
	}
	batch := make([]*operation[T, R], size)
	copy(batch, p.queue[:size])
	p.queue = p.queue[size:]

	if len(batch) == 0 {
		p.processing = false
		if len(p.queue) > 0 && p.timer == nil && !p.closed {
			p.timer = time.AfterFunc(p.adaptiveWaitLocked(), p.flushTimer)
		}
	}
	p.failed += int64(len(expired))
	p.mu.Unlock()

	for _, op := range expired {
		op.reject(ErrOperationTimeout)
	}
	return batch
}

// deliver maps results positionally back to operations. A missing result
// fails only that operation, never the whole batch.
func (p *Processor[T, R]) deliver(batch []*operation[T, R], results []R) {
	var ok, missing int64
	for i, op := range batch {
		if i < len(results) {
			op.resolve(results[i])
			ok++
		} else {
			op.reject(ErrMissingResult)
			missing++
		}
	}

	p.mu.Lock()
	p.processed += ok
	p.failed += missing
	p.mu.Unlock()
}

// retryOrReject handles a whole-call processor failure: operations with
// retries left are re-queued at the front, the rest are rejected.
func (p *Processor[T, R]) retryOrReject(batch []*operation[T, R], cause error) {
	var requeue []*operation[T, R]
	var rejected []*operation[T, R]
	for _, op := range batch {
		if op.retries < op.maxRetries {
			op.retries++
			requeue = append(requeue, op)
		} else {
			rejected = append(rejected, op)
		}
	}

	p.mu.Lock()
	if p.closed {
		rejected = append(rejected, requeue...)
		requeue = nil
	} else if len(requeue) > 0 {
		p.queue = append(requeue, p.queue...)
		p.retried += int64(len(requeue))
	}
	p.failed += int64(len(rejected))
	p.mu.Unlock()

	p.config.Logger.Warn(context.Background(), "batch processing failed",
		observe.Field{Key: "batch_size", Value: len(batch)},
		observe.Field{Key: "requeued", Value: len(requeue)},
		observe.Field{Key: "error", Value: cause.Error()},
	)

	for _, op := range rejected {
		op.reject(errors.Join(ErrMaxRetriesExceeded, cause))
	}
}

// updateAdaptiveSizeLocked folds one batch duration into the trailing
// average and resizes: cheap batches grow 20% (capped at the configured
// maximum), expensive batches shrink 20%, anything in between resets to
// the configured maximum. Caller holds p.mu.
func (p *Processor[T, R]) updateAdaptiveSizeLocked(elapsed time.Duration) {
	if p.avgProcessing == 0 {
		p.avgProcessing = elapsed
	} else {
		p.avgProcessing = (p.avgProcessing*4 + elapsed) / 5
	}

	switch {
	case p.avgProcessing < fastBatch:
		grown := int(float64(p.adaptiveSize) * sizeGrowFactor)
		if grown == p.adaptiveSize {
			grown++
		}
		if grown > p.config.MaxBatchSize {
			grown = p.config.MaxBatchSize
		}
		p.adaptiveSize = grown
	case p.avgProcessing > slowBatch:
		shrunk := int(float64(p.adaptiveSize) * sizeShrinkRatio)
		if shrunk < 1 {
			shrunk = 1
		}
		p.adaptiveSize = shrunk
	default:
		p.adaptiveSize = p.config.MaxBatchSize
	}
}

// rejectAllLocked fails every queued operation. Caller holds p.mu.
func (p *Processor[T, R]) rejectAllLocked(err error) {
	queue := p.queue
	p.queue = nil
	p.failed += int64(len(queue))
	for _, op := range queue {
		op.reject(err)
	}
}

// Flush forces the current queue to process without waiting for the
// adaptive window, then blocks until the queue is empty or ctx is done.
func (p *Processor[T, R]) Flush(ctx context.Context) error {
	p.mu.Lock()
	if !p.processing && len(p.queue) > 0 && !p.closed {
		p.startBatchLocked()
	}
	p.mu.Unlock()
	return p.Drain(ctx)
}

// Drain blocks until the queue is empty and no batch is in flight.
func (p *Processor[T, R]) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		idle := len(p.queue) == 0 && !p.processing
		if !idle && !p.processing && !p.closed {
			// Work is queued but the window has not fired yet; push it.
			p.startBatchLocked()
		}
		p.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats is a point-in-time snapshot of processor state.
type Stats struct {
	QueueDepth        int
	Processed         int64
	Failed            int64
	Retried           int64
	Batches           int64
	CurrentBatchSize  int
	CurrentWait       time.Duration
	AvgProcessingTime time.Duration
}

// Stats returns a snapshot of the processor.
func (p *Processor[T, R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		QueueDepth:        len(p.queue),
		Processed:         p.processed,
		Failed:            p.failed,
		Retried:           p.retried,
		Batches:           p.batches,
		CurrentBatchSize:  p.adaptiveSize,
		CurrentWait:       p.adaptiveWaitLocked(),
		AvgProcessingTime: p.avgProcessing,
	}
}

// Close stops the processor and rejects all queued operations with
// ErrProcessorClosed. An in-flight batch completes and its callers still
// receive results. Idempotent.
func (p *Processor[T, R]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	// An active run goroutine rejects the queue itself on its next pass.
	if !p.processing {
		p.rejectAllLocked(ErrProcessorClosed)
	}
	p.mu.Unlock()
}
