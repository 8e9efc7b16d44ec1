package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stateset/stateset-mcp-server-sub001/observe"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey    = errors.New("cache: key is invalid")
	ErrKeyTooLong    = errors.New("cache: key exceeds max length")
	ErrValueTooLarge = errors.New("cache: value exceeds memory capacity")
	ErrCacheClosed   = errors.New("cache: cache is closed")
)

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// Observer receives cache lifecycle notifications. All methods are called
// outside cache locks and must be fast.
type Observer interface {
	EntrySet(key string)
	EntryEvicted(key string)
	EntryExpired(key string)
}

// Config configures a Cache.
type Config[T any] struct {
	// MaxEntries bounds the live entry count. Occupancy above 90% of
	// this triggers proactive eviction of roughly 10% of entries.
	// Default: 10000
	MaxEntries int

	// MaxMemoryBytes bounds the estimated memory footprint.
	// Default: 100 MiB
	MaxMemoryBytes int64

	// DefaultTTL applies to Set calls without an explicit TTL.
	// Default: 5m
	DefaultTTL time.Duration

	// SweepInterval is how often expired entries are swept.
	// Default: 1m
	SweepInterval time.Duration

	// StaleCapacity bounds the stale store holding expired entries for
	// degraded reads.
	// Default: 1000
	StaleCapacity int

	// StaleTTL is how long an expired entry stays available for stale
	// reads before the sweep discards it.
	// Default: 1h
	StaleTTL time.Duration

	// Size estimates an entry's footprint in bytes.
	// Default: length of the JSON encoding.
	Size func(value T) int

	// Observer receives cache notifications. Optional.
	Observer Observer

	// Logger receives cache logs. Default: no-op.
	Logger observe.Logger

	// Metrics records prefetch outcomes. Default: no-op.
	Metrics observe.Metrics
}

// SetOptions configures one Set call.
type SetOptions struct {
	// TTL overrides the default TTL. Zero uses the default.
	TTL time.Duration

	// Tags label the entry for group invalidation.
	Tags []string

	// Priority in [0, 1] protects the entry from eviction.
	// Default: 0.5
	Priority float64
}

// entry is one live cache entry.
type entry[T any] struct {
	value        T
	createdAt    time.Time
	ttl          time.Duration
	hitCount     int64
	lastAccessed time.Time
	sizeBytes    int
	priority     float64
	tags         map[string]struct{}
}

func (e *entry[T]) expiredAt(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// staleEntry holds an expired value for degraded reads.
type staleEntry[T any] struct {
	value     T
	expiredAt time.Time
}

// Cache is a generic TTL cache with adaptive eviction and access
// prediction.
type Cache[T any] struct {
	config Config[T]

	mu          sync.Mutex
	entries     map[string]*entry[T]
	stale       map[string]staleEntry[T]
	staleOrder  []string // insertion order for stale-store capacity eviction
	accesses    map[string]*accessRecord
	memoryBytes int64
	closed      bool

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	sets        int64

	prefetchGroup singleflight.Group

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Cache and starts its sweep loop.
func New[T any](config Config[T]) *Cache[T] {
	// Apply defaults
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	if config.MaxMemoryBytes <= 0 {
		config.MaxMemoryBytes = 100 * 1024 * 1024
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.StaleCapacity <= 0 {
		config.StaleCapacity = 1000
	}
	if config.StaleTTL <= 0 {
		config.StaleTTL = time.Hour
	}
	if config.Size == nil {
		config.Size = estimateSize[T]
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	config.Logger = config.Logger.WithComponent("cache")

	c := &Cache[T]{
		config:   config,
		entries:  make(map[string]*entry[T]),
		stale:    make(map[string]staleEntry[T]),
		accesses: make(map[string]*accessRecord),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// estimateSize approximates an entry's footprint by its JSON encoding.
func estimateSize[T any](value T) int {
	encoded, err := json.Marshal(value)
	if err != nil {
		return 64
	}
	return len(encoded)
}

// Get retrieves a live value. Expired entries are moved to the stale
// store and reported as a miss.
func (c *Cache[T]) Get(_ context.Context, key string) (T, bool) {
	var zero T
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, false
	}
	if e.expiredAt(now) {
		c.expireLocked(key, e, now)
		c.misses++
		c.mu.Unlock()
		if c.config.Observer != nil {
			c.config.Observer.EntryExpired(key)
		}
		return zero, false
	}

	e.hitCount++
	e.lastAccessed = now
	c.recordAccessLocked(key, now)
	c.hits++
	value := e.value
	c.mu.Unlock()

	return value, true
}

// GetStale retrieves a value for degraded reads, preferring the live
// entry but falling back to the stale store. Stale hits do not count as
// accesses for prediction.
func (c *Cache[T]) GetStale(ctx context.Context, key string) (T, bool) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true
	}

	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stale[key]; ok {
		return s.value, true
	}
	return zero, false
}

// Set stores a value. Invalid keys and values larger than the memory
// cap are rejected; other capacity pressure is resolved by eviction
// before insertion.
func (c *Cache[T]) Set(_ context.Context, key string, value T, opts SetOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	priority := opts.Priority
	if priority <= 0 {
		priority = 0.5
	}
	if priority > 1 {
		priority = 1
	}

	size := c.config.Size(value)
	// No amount of eviction can make room for a value past the cap.
	if int64(size) > c.config.MaxMemoryBytes {
		return ErrValueTooLarge
	}
	now := time.Now()

	tags := make(map[string]struct{}, len(opts.Tags))
	for _, t := range opts.Tags {
		tags[t] = struct{}{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCacheClosed
	}

	if prev, ok := c.entries[key]; ok {
		c.memoryBytes -= int64(prev.sizeBytes)
		delete(c.entries, key)
	}

	evicted := c.ensureCapacityLocked(int64(size), now)

	c.entries[key] = &entry[T]{
		value:        value,
		createdAt:    now,
		ttl:          ttl,
		lastAccessed: now,
		sizeBytes:    size,
		priority:     priority,
		tags:         tags,
	}
	c.memoryBytes += int64(size)
	c.sets++
	c.mu.Unlock()

	if c.config.Observer != nil {
		for _, k := range evicted {
			c.config.Observer.EntryEvicted(k)
		}
		c.config.Observer.EntrySet(key)
	}
	return nil
}

// Delete removes a key from the live and stale stores. Idempotent.
func (c *Cache[T]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.memoryBytes -= int64(e.sizeBytes)
		delete(c.entries, key)
	}
	delete(c.stale, key)
	delete(c.accesses, key)
	c.mu.Unlock()
	return nil
}

// DeleteByTags removes every entry tagged with any of the given tags in
// one pass. Returns the number of live entries removed.
func (c *Cache[T]) DeleteByTags(_ context.Context, tags []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		for _, t := range tags {
			if _, ok := e.tags[t]; ok {
				c.memoryBytes -= int64(e.sizeBytes)
				delete(c.entries, key)
				delete(c.accesses, key)
				removed++
				break
			}
		}
	}
	return removed
}

// MGet retrieves multiple keys, returning only the hits.
func (c *Cache[T]) MGet(ctx context.Context, keys []string) map[string]T {
	out := make(map[string]T, len(keys))
	for _, key := range keys {
		if v, ok := c.Get(ctx, key); ok {
			out[key] = v
		}
	}
	return out
}

// MSet stores multiple values with shared options. The first error stops
// the batch.
func (c *Cache[T]) MSet(ctx context.Context, values map[string]T, opts SetOptions) error {
	for key, v := range values {
		if err := c.Set(ctx, key, v, opts); err != nil {
			return err
		}
	}
	return nil
}

// expireLocked moves an expired entry into the stale store. Caller holds
// c.mu.
func (c *Cache[T]) expireLocked(key string, e *entry[T], now time.Time) {
	c.memoryBytes -= int64(e.sizeBytes)
	delete(c.entries, key)
	c.expirations++

	if len(c.stale) >= c.config.StaleCapacity {
		c.dropOldestStaleLocked()
	}
	if _, exists := c.stale[key]; !exists {
		c.staleOrder = append(c.staleOrder, key)
	}
	c.stale[key] = staleEntry[T]{value: e.value, expiredAt: now}
}

func (c *Cache[T]) dropOldestStaleLocked() {
	for len(c.staleOrder) > 0 {
		oldest := c.staleOrder[0]
		c.staleOrder = c.staleOrder[1:]
		if _, ok := c.stale[oldest]; ok {
			delete(c.stale, oldest)
			return
		}
	}
}

// sweepLoop periodically expires live entries and prunes the stale store.
func (c *Cache[T]) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep moves expired entries to the stale store and drops stale values
// past their grace window.
func (c *Cache[T]) sweep(now time.Time) {
	var expired []string

	c.mu.Lock()
	for key, e := range c.entries {
		if e.expiredAt(now) {
			c.expireLocked(key, e, now)
			expired = append(expired, key)
		}
	}
	cutoff := now.Add(-c.config.StaleTTL)
	kept := c.staleOrder[:0]
	for _, key := range c.staleOrder {
		s, ok := c.stale[key]
		if !ok {
			continue
		}
		if s.expiredAt.Before(cutoff) {
			delete(c.stale, key)
		} else {
			kept = append(kept, key)
		}
	}
	c.staleOrder = kept
	c.mu.Unlock()

	if c.config.Observer != nil {
		for _, key := range expired {
			c.config.Observer.EntryExpired(key)
		}
	}
}

// Stats is a point-in-time snapshot of cache state.
type Stats struct {
	Entries      int
	StaleEntries int
	MemoryBytes  int64
	Hits         int64
	Misses       int64
	HitRate      float64
	Evictions    int64
	Expirations  int64
	Sets         int64
}

// Stats returns a snapshot of the cache.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:      len(c.entries),
		StaleEntries: len(c.stale),
		MemoryBytes:  c.memoryBytes,
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Expirations:  c.expirations,
		Sets:         c.sets,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops the sweep loop and rejects further writes. Idempotent.
func (c *Cache[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
}
