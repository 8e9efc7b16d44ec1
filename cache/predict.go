package cache

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/stateset/stateset-mcp-server-sub001/observe"
)

// maxAccessHistory bounds the per-key timestamp history used for
// interval prediction.
const maxAccessHistory = 10

// prefetchDueFraction is the fraction of the predicted interval after
// which a key becomes a prefetch candidate.
const prefetchDueFraction = 0.8

// accessRecord tracks recent access times for one key.
type accessRecord struct {
	timestamps []time.Time
}

// recordAccessLocked appends an access timestamp for prediction. Caller
// holds c.mu.
func (c *Cache[T]) recordAccessLocked(key string, now time.Time) {
	rec, ok := c.accesses[key]
	if !ok {
		rec = &accessRecord{}
		c.accesses[key] = rec
	}
	rec.timestamps = append(rec.timestamps, now)
	if len(rec.timestamps) > maxAccessHistory {
		rec.timestamps = rec.timestamps[len(rec.timestamps)-maxAccessHistory:]
	}
}

// meanInterval returns the mean gap between consecutive accesses, or
// zero while fewer than two accesses have been seen.
func (r *accessRecord) meanInterval() time.Duration {
	if len(r.timestamps) < 2 {
		return 0
	}
	var sum time.Duration
	for i := 1; i < len(r.timestamps); i++ {
		sum += r.timestamps[i].Sub(r.timestamps[i-1])
	}
	return sum / time.Duration(len(r.timestamps)-1)
}

// lastAccess returns the most recent access time.
func (r *accessRecord) lastAccess() time.Time {
	if len(r.timestamps) == 0 {
		return time.Time{}
	}
	return r.timestamps[len(r.timestamps)-1]
}

// Prefetch proactively refreshes keys matching pattern whose time since
// last access exceeds 80% of their predicted access interval. Refreshed
// entries get half their original TTL and half their priority so a
// wrong prediction ages out quickly. Fetch failures are logged and
// skipped; only a bad pattern is returned as an error.
func (c *Cache[T]) Prefetch(ctx context.Context, pattern string, fetcher func(ctx context.Context, key string) (T, error)) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("cache: invalid prefetch pattern: %w", err)
	}

	now := time.Now()

	type candidate struct {
		key      string
		ttl      time.Duration
		priority float64
	}
	var due []candidate

	c.mu.Lock()
	for key, rec := range c.accesses {
		if !re.MatchString(key) {
			continue
		}
		interval := rec.meanInterval()
		if interval <= 0 {
			continue
		}
		if float64(now.Sub(rec.lastAccess())) <= prefetchDueFraction*float64(interval) {
			continue
		}

		ttl := c.config.DefaultTTL
		priority := 0.5
		if e, ok := c.entries[key]; ok {
			ttl = e.ttl
			priority = e.priority
		}
		due = append(due, candidate{key: key, ttl: ttl / 2, priority: priority / 2})
	}
	c.mu.Unlock()

	for _, cand := range due {
		start := time.Now()
		value, err, _ := c.prefetchGroup.Do(cand.key, func() (any, error) {
			return fetcher(ctx, cand.key)
		})
		c.config.Metrics.RecordCall(ctx,
			observe.CallMeta{Component: "cache", Operation: "prefetch"}, time.Since(start), err)

		if err != nil {
			// Best effort: a failed prefetch is not a caller-visible error.
			c.config.Logger.Warn(ctx, "prefetch failed",
				observe.Field{Key: "key", Value: cand.key},
				observe.Field{Key: "error", Value: err.Error()},
			)
			continue
		}

		if setErr := c.Set(ctx, cand.key, value.(T), SetOptions{
			TTL:      cand.ttl,
			Priority: cand.priority,
		}); setErr != nil {
			c.config.Logger.Warn(ctx, "prefetch store failed",
				observe.Field{Key: "key", Value: cand.key},
				observe.Field{Key: "error", Value: setErr.Error()},
			)
		}
	}

	return nil
}
