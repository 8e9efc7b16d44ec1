package cache

import (
	"sort"
	"time"
)

// Eviction score weights. The score combines how long ago an entry was
// accessed, how rarely it is hit, how large it is, and how unimportant
// its caller declared it; entries are removed in ascending score order.
const (
	recencyWeight   = 0.4
	frequencyWeight = 0.3
	sizeWeight      = 0.2
	priorityWeight  = 0.1

	recencyHorizon = 24 * time.Hour
)

// occupancyThreshold is the fraction of MaxEntries past which eviction
// runs proactively, dropping evictionFraction of the live entries.
const (
	occupancyThreshold = 0.9
	evictionFraction   = 0.1
)

// evictionScore computes the composite score for one entry.
// maxSize normalizes the size component against the largest live entry.
func evictionScore[T any](e *entry[T], now time.Time, maxSize int) float64 {
	recency := float64(now.Sub(e.lastAccessed)) / float64(recencyHorizon)
	if recency > 1 {
		recency = 1
	}

	frequency := 1 / float64(e.hitCount+1)

	sizeNorm := 0.0
	if maxSize > 0 {
		sizeNorm = float64(e.sizeBytes) / float64(maxSize)
		if sizeNorm > 1 {
			sizeNorm = 1
		}
	}

	return recencyWeight*recency +
		frequencyWeight*frequency +
		sizeWeight*sizeNorm +
		priorityWeight*(1-e.priority)
}

// ensureCapacityLocked evicts entries until an insertion of addBytes fits
// under the memory cap and occupancy stays below the proactive threshold.
// Returns the evicted keys. Caller holds c.mu.
func (c *Cache[T]) ensureCapacityLocked(addBytes int64, now time.Time) []string {
	var evicted []string

	if c.memoryBytes+addBytes > c.config.MaxMemoryBytes {
		evicted = append(evicted, c.evictLocked(now, func() bool {
			return c.memoryBytes+addBytes <= c.config.MaxMemoryBytes
		}, 0)...)
	}

	if float64(len(c.entries)+1) > occupancyThreshold*float64(c.config.MaxEntries) {
		target := int(evictionFraction * float64(len(c.entries)))
		if target < 1 {
			target = 1
		}
		evicted = append(evicted, c.evictLocked(now, nil, target)...)
	}

	return evicted
}

// evictLocked removes entries in ascending eviction-score order until
// either satisfied() holds or count entries are gone. Caller holds c.mu.
func (c *Cache[T]) evictLocked(now time.Time, satisfied func() bool, count int) []string {
	if len(c.entries) == 0 {
		return nil
	}

	maxSize := 0
	for _, e := range c.entries {
		if e.sizeBytes > maxSize {
			maxSize = e.sizeBytes
		}
	}

	type scored struct {
		key   string
		score float64
	}
	ranked := make([]scored, 0, len(c.entries))
	for key, e := range c.entries {
		ranked = append(ranked, scored{key: key, score: evictionScore(e, now, maxSize)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })

	var evicted []string
	for _, candidate := range ranked {
		if satisfied != nil && satisfied() {
			break
		}
		if satisfied == nil && len(evicted) >= count {
			break
		}
		e := c.entries[candidate.key]
		c.memoryBytes -= int64(e.sizeBytes)
		delete(c.entries, candidate.key)
		delete(c.accesses, candidate.key)
		c.evictions++
		evicted = append(evicted, candidate.key)
	}

	return evicted
}
