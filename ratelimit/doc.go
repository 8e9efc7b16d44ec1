// Package ratelimit serializes and paces outbound API calls against an
// hourly quota.
//
// A RequestQueue holds pending operations in FIFO order and drains them
// from a single goroutine. An operation starts only while the trailing
// one-hour window holds fewer than 90% of the quota's worth of starts;
// otherwise the drain loop sleeps and re-checks. One queue instance is
// shared by everything that talks to the StateSet API, so the quota is
// enforced globally rather than per caller.
package ratelimit
