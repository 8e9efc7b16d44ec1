package health

import (
	"context"
	"fmt"

	"github.com/stateset/stateset-mcp-server-sub001/batch"
	"github.com/stateset/stateset-mcp-server-sub001/cache"
	"github.com/stateset/stateset-mcp-server-sub001/degrade"
	"github.com/stateset/stateset-mcp-server-sub001/pool"
	"github.com/stateset/stateset-mcp-server-sub001/ratelimit"
)

// PoolChecker reports connection pool health from its stats snapshot.
type PoolChecker struct {
	pool *pool.Pool
}

// NewPoolChecker creates a checker for a connection pool.
func NewPoolChecker(p *pool.Pool) *PoolChecker {
	return &PoolChecker{pool: p}
}

func (c *PoolChecker) Name() string { return "pool" }

// Check reports degraded when callers are parked waiting for a
// connection, and unhealthy when the pool is saturated with no idle
// capacity at all.
func (c *PoolChecker) Check(_ context.Context) Result {
	s := c.pool.Stats()

	details := map[string]any{
		"total":       s.TotalConnections,
		"active":      s.ActiveConnections,
		"idle":        s.IdleConnections,
		"max":         s.MaxConnections,
		"waiting":     s.Waiting,
		"requests":    s.TotalRequests,
		"errors":      s.TotalErrors,
		"avg_latency": s.AvgLatency.String(),
	}

	switch {
	case s.Waiting > 0 && s.TotalConnections >= s.MaxConnections && s.IdleConnections == 0:
		return Unhealthy(
			fmt.Sprintf("pool saturated: %d waiting on %d connections", s.Waiting, s.TotalConnections),
			ErrCheckFailed,
		).WithDetails(details)
	case s.Waiting > 0:
		return Degraded(
			fmt.Sprintf("%d callers waiting for a connection", s.Waiting),
		).WithDetails(details)
	default:
		return Healthy(
			fmt.Sprintf("%d/%d connections, %d idle", s.TotalConnections, s.MaxConnections, s.IdleConnections),
		).WithDetails(details)
	}
}

// QueueChecker reports rate-limit queue health.
type QueueChecker struct {
	queue *ratelimit.RequestQueue
}

// NewQueueChecker creates a checker for a request queue.
func NewQueueChecker(q *ratelimit.RequestQueue) *QueueChecker {
	return &QueueChecker{queue: q}
}

func (c *QueueChecker) Name() string { return "queue" }

// Check reports degraded once the trailing-hour window passes 90% of
// the configured quota, and unhealthy when the quota is exhausted.
func (c *QueueChecker) Check(_ context.Context) Result {
	s := c.queue.Stats()

	details := map[string]any{
		"depth":        s.QueueDepth,
		"executed":     s.Executed,
		"failed":       s.Failed,
		"window_count": s.WindowCount,
		"quota":        s.RequestsPerHour,
		"avg_latency":  s.AvgLatency.String(),
	}

	switch {
	case s.WindowCount >= s.RequestsPerHour:
		return Unhealthy(
			fmt.Sprintf("hourly quota exhausted: %d/%d", s.WindowCount, s.RequestsPerHour),
			ErrCheckFailed,
		).WithDetails(details)
	case float64(s.WindowCount) >= 0.9*float64(s.RequestsPerHour):
		return Degraded(
			fmt.Sprintf("approaching hourly quota: %d/%d", s.WindowCount, s.RequestsPerHour),
		).WithDetails(details)
	default:
		return Healthy(
			fmt.Sprintf("%d/%d requests in trailing hour", s.WindowCount, s.RequestsPerHour),
		).WithDetails(details)
	}
}

// CacheChecker reports cache health from its stats snapshot.
type CacheChecker[T any] struct {
	cache *cache.Cache[T]
}

// NewCacheChecker creates a checker for a cache.
func NewCacheChecker[T any](c *cache.Cache[T]) *CacheChecker[T] {
	return &CacheChecker[T]{cache: c}
}

func (c *CacheChecker[T]) Name() string { return "cache" }

// Check is informational; the cache degrades itself by evicting, so it
// never turns a readiness probe red.
func (c *CacheChecker[T]) Check(_ context.Context) Result {
	s := c.cache.Stats()

	return Healthy(
		fmt.Sprintf("%d entries, %.0f%% hit rate", s.Entries, s.HitRate*100),
	).WithDetails(map[string]any{
		"entries":       s.Entries,
		"stale_entries": s.StaleEntries,
		"memory_bytes":  s.MemoryBytes,
		"hits":          s.Hits,
		"misses":        s.Misses,
		"hit_rate":      s.HitRate,
		"evictions":     s.Evictions,
		"expirations":   s.Expirations,
	})
}

// BatchChecker reports batch processor health.
type BatchChecker[T, R any] struct {
	processor *batch.Processor[T, R]
}

// NewBatchChecker creates a checker for a batch processor.
func NewBatchChecker[T, R any](p *batch.Processor[T, R]) *BatchChecker[T, R] {
	return &BatchChecker[T, R]{processor: p}
}

func (c *BatchChecker[T, R]) Name() string { return "batch" }

func (c *BatchChecker[T, R]) Check(_ context.Context) Result {
	s := c.processor.Stats()

	details := map[string]any{
		"depth":          s.QueueDepth,
		"processed":      s.Processed,
		"failed":         s.Failed,
		"retried":        s.Retried,
		"batches":        s.Batches,
		"batch_size":     s.CurrentBatchSize,
		"avg_batch_time": s.AvgProcessingTime.String(),
	}

	if s.Processed > 0 && float64(s.Failed) > 0.5*float64(s.Processed) {
		return Degraded(
			fmt.Sprintf("high batch failure rate: %d failed of %d", s.Failed, s.Processed),
		).WithDetails(details)
	}
	return Healthy(
		fmt.Sprintf("%d queued, batch size %d", s.QueueDepth, s.CurrentBatchSize),
	).WithDetails(details)
}

// DegradeChecker folds the degradation manager's per-service levels into
// one result.
type DegradeChecker struct {
	manager *degrade.Manager
}

// NewDegradeChecker creates a checker for a degradation manager.
func NewDegradeChecker(m *degrade.Manager) *DegradeChecker {
	return &DegradeChecker{manager: m}
}

func (c *DegradeChecker) Name() string { return "services" }

// Check reports unhealthy when any service is unavailable and degraded
// when any service is below healthy.
func (c *DegradeChecker) Check(_ context.Context) Result {
	snapshot := c.manager.Snapshot()

	details := make(map[string]any, len(snapshot))
	var worst degrade.Level
	var worstName string
	for name, st := range snapshot {
		details[name] = map[string]any{
			"level":    st.Level.String(),
			"failures": st.ConsecutiveFailures,
		}
		if st.Level > worst {
			worst = st.Level
			worstName = name
		}
	}

	switch {
	case worst >= degrade.Unavailable:
		return Unhealthy(
			fmt.Sprintf("service %s unavailable", worstName),
			ErrCheckFailed,
		).WithDetails(details)
	case worst > degrade.Healthy:
		return Degraded(
			fmt.Sprintf("service %s is %s", worstName, worst),
		).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("%d services healthy", len(snapshot))).WithDetails(details)
	}
}
