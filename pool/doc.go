// Package pool owns a set of reusable StateSet API client handles and
// wraps every request with retry and jittered backoff.
//
// The pool grows on demand up to a size derived from the hourly quota
// (max(5, quota/100)). Acquisition scans for a healthy idle connection,
// creates one if there is room, and otherwise parks the caller on a
// waiter channel that a releasing connection signals directly; waiters
// re-scan on wake, so two callers can never adopt the same idle handle.
// A 30 second acquisition timeout converts indefinite waiting into
// ErrAcquireTimeout.
//
// Background maintenance probes idle connections every minute and evicts
// stale idle connections every five minutes, always preserving a small
// floor of warm handles.
package pool
