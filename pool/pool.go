package pool

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stateset/stateset-mcp-server-sub001/api"
	"github.com/stateset/stateset-mcp-server-sub001/observe"
)

// Sentinel errors for pool operations.
var (
	// ErrPoolClosed is returned for requests issued after Close.
	ErrPoolClosed = errors.New("pool: pool is closed")

	// ErrAcquireTimeout is returned when no connection becomes available
	// within the acquisition timeout.
	ErrAcquireTimeout = errors.New("pool: timed out waiting for a connection")
)

// Factory creates a new API client handle for one pooled connection.
type Factory func(ctx context.Context) (api.Client, error)

// Observer receives connection lifecycle notifications. Register one via
// Config.Observer; all methods are called outside pool locks and must be
// fast.
type Observer interface {
	ConnectionCreated(id string)
	ConnectionRemoved(id, reason string)
}

// Config configures a Pool.
type Config struct {
	// RequestsPerHour is the hourly quota the pool sizes itself from:
	// the pool holds at most max(5, RequestsPerHour/100) connections.
	// Default: 1000
	RequestsPerHour int

	// AcquireTimeout bounds how long a caller waits for a connection.
	// Default: 30s
	AcquireTimeout time.Duration

	// MaxConnectionAge is the age past which an idle connection is no
	// longer considered healthy for reuse.
	// Default: 5m
	MaxConnectionAge time.Duration

	// MaxIdleTime is how long a connection may sit unused before
	// cleanup evicts it.
	// Default: 10m
	MaxIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are probed.
	// Default: 1m
	HealthCheckInterval time.Duration

	// CleanupInterval is how often stale idle connections are evicted.
	// Default: 5m
	CleanupInterval time.Duration

	// MaxConnErrors is the error count past which a connection is
	// considered unhealthy.
	// Default: 10
	MaxConnErrors int64

	// MaxErrorRate is the error ratio past which a connection is
	// considered unhealthy.
	// Default: 0.1
	MaxErrorRate float64

	// Retry configures retry/backoff for every request.
	Retry RetryConfig

	// Probe checks an idle connection's health. Probe failures remove
	// the connection. Nil disables probing.
	Probe func(ctx context.Context, client api.Client) error

	// Observer receives connection lifecycle notifications. Optional.
	Observer Observer

	// Logger receives pool lifecycle logs. Default: no-op.
	Logger observe.Logger

	// Metrics records request outcomes. Default: no-op.
	Metrics observe.Metrics
}

// conn is one pooled connection handle. Mutated only under Pool.mu.
type conn struct {
	id           string
	client       api.Client
	inUse        bool
	created      time.Time
	lastUsed     time.Time
	requestCount int64
	errorCount   int64
	latencies    []time.Duration // ring of recent samples
	latencyNext  int
}

const latencySamples = 20

func (c *conn) recordLatency(d time.Duration) {
	if len(c.latencies) < latencySamples {
		c.latencies = append(c.latencies, d)
		return
	}
	c.latencies[c.latencyNext] = d
	c.latencyNext = (c.latencyNext + 1) % latencySamples
}

func (c *conn) avgLatency() time.Duration {
	if len(c.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range c.latencies {
		sum += d
	}
	return sum / time.Duration(len(c.latencies))
}

// Pool is a self-healing set of reusable API client handles.
type Pool struct {
	config  Config
	factory Factory
	maxSize int

	mu       sync.Mutex
	conns    map[string]*conn
	creating int // slots reserved by in-flight factory calls
	waiters  []chan struct{}
	drainers []chan struct{}
	closed   bool

	totalRequests int64
	totalErrors   int64
	created       int64
	destroyed     int64

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a pool that builds connections with factory.
func New(factory Factory, config Config) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool: factory is required")
	}

	// Apply defaults
	if config.RequestsPerHour <= 0 {
		config.RequestsPerHour = 1000
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 30 * time.Second
	}
	if config.MaxConnectionAge <= 0 {
		config.MaxConnectionAge = 5 * time.Minute
	}
	if config.MaxIdleTime <= 0 {
		config.MaxIdleTime = 10 * time.Minute
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxConnErrors <= 0 {
		config.MaxConnErrors = 10
	}
	if config.MaxErrorRate <= 0 {
		config.MaxErrorRate = 0.1
	}
	config.Retry = config.Retry.withDefaults()
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	config.Logger = config.Logger.WithComponent("pool")

	maxSize := config.RequestsPerHour / 100
	if maxSize < 5 {
		maxSize = 5
	}

	p := &Pool{
		config:  config,
		factory: factory,
		maxSize: maxSize,
		conns:   make(map[string]*conn),
		done:    make(chan struct{}),
	}

	p.wg.Add(1)
	go p.maintenanceLoop()

	return p, nil
}

// Request executes one API request on a pooled connection, retrying
// retryable failures with jittered backoff.
func (p *Pool) Request(ctx context.Context, req api.RequestConfig) (*api.Response, error) {
	c, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *api.Response
	err = p.config.Retry.executeWithRetry(ctx, func(ctx context.Context) error {
		r, execErr := c.client.Do(ctx, req)
		if execErr != nil {
			return execErr
		}
		resp = r
		return nil
	})
	elapsed := time.Since(start)

	p.release(c, elapsed, err)
	p.config.Metrics.RecordCall(ctx, observe.CallMeta{
		Component: "pool",
		Operation: req.Method + " " + req.Path,
	}, elapsed, err)

	return resp, err
}

// BatchResult holds one positional result of BatchRequest.
type BatchResult struct {
	Response *api.Response
	Err      error
}

// BatchRequest executes the requests concurrently, each on its own pooled
// connection. Results map positionally; one failed request does not
// affect the others.
func (p *Pool) BatchRequest(ctx context.Context, reqs []api.RequestConfig) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.maxSize)
	for i := range reqs {
		i := i
		g.Go(func() error {
			resp, err := p.Request(ctx, reqs[i])
			results[i] = BatchResult{Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// acquire returns a connection marked in-use. It scans for a healthy idle
// connection, grows the pool if there is room, and otherwise waits for a
// release signal, re-scanning on every wake.
func (p *Pool) acquire(ctx context.Context) (*conn, error) {
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		now := time.Now()
		for _, c := range p.conns {
			if !c.inUse && p.healthyLocked(c, now) {
				c.inUse = true
				c.lastUsed = now
				p.mu.Unlock()
				return c, nil
			}
		}

		if len(p.conns)+p.creating < p.maxSize {
			p.creating++
			p.mu.Unlock()
			return p.createConn(ctx)
		}

		// Pool is full and busy: park until a release or removal signals.
		w := make(chan struct{}, 1)
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case <-w:
			// Re-scan; the signalled connection may already be taken.
		case <-timer.C:
			p.dropWaiter(w)
			return nil, ErrAcquireTimeout
		case <-ctx.Done():
			p.dropWaiter(w)
			return nil, ctx.Err()
		}
	}
}

// createConn builds a connection via the factory. The caller has already
// reserved a slot by incrementing p.creating.
func (p *Pool) createConn(ctx context.Context) (*conn, error) {
	client, err := p.factory(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.signalLocked()
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		closeClient(client)
		return nil, ErrPoolClosed
	}

	now := time.Now()
	c := &conn{
		id:       uuid.NewString(),
		client:   client,
		inUse:    true,
		created:  now,
		lastUsed: now,
	}
	p.conns[c.id] = c
	p.created++
	p.mu.Unlock()

	p.config.Logger.Debug(ctx, "connection created",
		observe.Field{Key: "connection_id", Value: c.id})
	if p.config.Observer != nil {
		p.config.Observer.ConnectionCreated(c.id)
	}
	return c, nil
}

// release returns a connection to the idle set and accounts the request.
func (p *Pool) release(c *conn, elapsed time.Duration, err error) {
	p.mu.Lock()
	c.inUse = false
	c.lastUsed = time.Now()
	c.requestCount++
	c.recordLatency(elapsed)
	p.totalRequests++
	if err != nil {
		c.errorCount++
		p.totalErrors++
	}
	p.signalLocked()
	p.notifyDrainersLocked()
	p.mu.Unlock()
}

// healthyLocked reports whether a connection is fit for reuse: young
// enough, and neither too many errors nor too high an error rate.
func (p *Pool) healthyLocked(c *conn, now time.Time) bool {
	if now.Sub(c.created) >= p.config.MaxConnectionAge {
		return false
	}
	if c.errorCount >= p.config.MaxConnErrors {
		return false
	}
	if c.requestCount > 0 {
		if rate := float64(c.errorCount) / float64(c.requestCount); rate >= p.config.MaxErrorRate {
			return false
		}
	}
	return true
}

// signalLocked wakes one parked acquirer, if any. Each signal is a
// token: exactly one acquirer re-scans per release or removal.
func (p *Pool) signalLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	select {
	case w <- struct{}{}:
	default:
	}
}

// notifyDrainersLocked wakes every parked Drain call. Drainers are
// broadcast to separately from acquirers so a drain never consumes an
// acquire token.
func (p *Pool) notifyDrainersLocked() {
	for _, d := range p.drainers {
		select {
		case d <- struct{}{}:
		default:
		}
	}
	p.drainers = nil
}

// dropWaiter removes an abandoned acquirer. When the waiter was already
// dequeued by signalLocked, its delivered token is forwarded to the next
// waiter instead of being discarded with the channel.
func (p *Pool) dropWaiter(w chan struct{}) {
	p.mu.Lock()
	for i, candidate := range p.waiters {
		if candidate == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	select {
	case <-w:
		p.signalLocked()
	default:
	}
	p.mu.Unlock()
}

func (p *Pool) dropDrainer(w chan struct{}) {
	p.mu.Lock()
	for i, candidate := range p.drainers {
		if candidate == w {
			p.drainers = append(p.drainers[:i], p.drainers[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// maintenanceLoop drives periodic health probes and idle cleanup.
func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	health := time.NewTicker(p.config.HealthCheckInterval)
	defer health.Stop()
	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-health.C:
			p.probeIdle()
		case <-cleanup.C:
			p.evictStale()
		}
	}
}

// probeIdle health-checks idle connections and removes the ones that
// fail. Probed connections are reserved so callers cannot adopt a handle
// mid-probe.
func (p *Pool) probeIdle() {
	if p.config.Probe == nil {
		return
	}

	p.mu.Lock()
	var idle []*conn
	for _, c := range p.conns {
		if !c.inUse {
			c.inUse = true // reserve during probe
			idle = append(idle, c)
		}
	}
	p.mu.Unlock()

	for _, c := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.config.Probe(ctx, c.client)
		cancel()

		p.mu.Lock()
		c.inUse = false
		if err != nil {
			p.removeLocked(c)
		}
		p.signalLocked()
		p.notifyDrainersLocked()
		p.mu.Unlock()

		if err != nil {
			p.config.Logger.Warn(context.Background(), "connection failed health check",
				observe.Field{Key: "connection_id", Value: c.id},
				observe.Field{Key: "error", Value: err.Error()},
			)
			p.notifyRemoved(c.id, "health check failed")
		}
	}
}

// evictStale removes idle connections past MaxIdleTime while preserving a
// floor of max(2, 20% of max) connections.
func (p *Pool) evictStale() {
	floor := p.maxSize / 5
	if floor < 2 {
		floor = 2
	}

	now := time.Now()
	var removed []string

	p.mu.Lock()
	for _, c := range p.conns {
		if len(p.conns) <= floor {
			break
		}
		if !c.inUse && now.Sub(c.lastUsed) > p.config.MaxIdleTime {
			p.removeLocked(c)
			removed = append(removed, c.id)
		}
	}
	if len(removed) > 0 {
		p.signalLocked()
	}
	p.mu.Unlock()

	for _, id := range removed {
		p.notifyRemoved(id, "idle timeout")
	}
}

// removeLocked drops a connection from the pool. Caller holds p.mu.
func (p *Pool) removeLocked(c *conn) {
	delete(p.conns, c.id)
	p.destroyed++
	closeClient(c.client)
}

func (p *Pool) notifyRemoved(id, reason string) {
	if p.config.Observer != nil {
		p.config.Observer.ConnectionRemoved(id, reason)
	}
}

func closeClient(client api.Client) {
	if closer, ok := client.(io.Closer); ok {
		_ = closer.Close()
	}
}

// Stats is a point-in-time snapshot of pool state. At every observation
// point ActiveConnections + IdleConnections == TotalConnections.
type Stats struct {
	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
	MaxConnections    int
	Waiting           int

	TotalRequests        int64
	TotalErrors          int64
	ConnectionsCreated   int64
	ConnectionsDestroyed int64
	AvgLatency           time.Duration
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		TotalConnections:     len(p.conns),
		MaxConnections:       p.maxSize,
		Waiting:              len(p.waiters),
		TotalRequests:        p.totalRequests,
		TotalErrors:          p.totalErrors,
		ConnectionsCreated:   p.created,
		ConnectionsDestroyed: p.destroyed,
	}

	var sum time.Duration
	var samples int
	for _, c := range p.conns {
		if c.inUse {
			s.ActiveConnections++
		} else {
			s.IdleConnections++
		}
		for _, d := range c.latencies {
			sum += d
			samples++
		}
	}
	if samples > 0 {
		s.AvgLatency = sum / time.Duration(samples)
	}

	return s
}

// ConnectionInfo is a read-only snapshot of one connection.
type ConnectionInfo struct {
	ID           string
	InUse        bool
	Created      time.Time
	LastUsed     time.Time
	RequestCount int64
	ErrorCount   int64
	AvgLatency   time.Duration
}

// ConnectionDetails returns a snapshot of every connection, for
// operational introspection.
func (p *Pool) ConnectionDetails() []ConnectionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	details := make([]ConnectionInfo, 0, len(p.conns))
	for _, c := range p.conns {
		details = append(details, ConnectionInfo{
			ID:           c.id,
			InUse:        c.inUse,
			Created:      c.created,
			LastUsed:     c.lastUsed,
			RequestCount: c.requestCount,
			ErrorCount:   c.errorCount,
			AvgLatency:   c.avgLatency(),
		})
	}
	return details
}

// Drain blocks until no connection is in use or ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		p.mu.Lock()
		active := 0
		for _, c := range p.conns {
			if c.inUse {
				active++
			}
		}
		if active == 0 {
			p.mu.Unlock()
			return nil
		}
		// Park on the drainer list; every release broadcasts to it.
		w := make(chan struct{}, 1)
		p.drainers = append(p.drainers, w)
		p.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			p.dropDrainer(w)
			return ctx.Err()
		}
	}
}

// Close shuts the pool down: maintenance stops, all connections are
// closed, and parked waiters fail with ErrPoolClosed. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)

	conns := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*conn)
	p.destroyed += int64(len(conns))

	waiters := p.waiters
	p.waiters = nil
	drainers := p.drainers
	p.drainers = nil
	p.mu.Unlock()

	for _, w := range waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	for _, d := range drainers {
		select {
		case d <- struct{}{}:
		default:
		}
	}
	for _, c := range conns {
		closeClient(c.client)
		p.notifyRemoved(c.id, "pool closed")
	}

	p.wg.Wait()
}
