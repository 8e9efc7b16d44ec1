// Package cache is a self-tuning in-memory cache for StateSet API
// responses.
//
// Entries carry a TTL, tags, and a priority. Expiry is enforced lazily on
// Get and by a periodic sweep; expired entries move to a bounded stale
// store so the degradation layer can deliberately serve them while the
// upstream API is unhealthy. When the cache approaches its entry or
// memory limits it evicts entries ranked by a composite score over
// recency, hit frequency, size, and priority.
//
// Each access feeds a per-key interval predictor; Prefetch proactively
// refreshes keys that are due to be read again soon.
package cache
