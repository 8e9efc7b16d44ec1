// Package api is the client for the StateSet commerce-operations REST API.
//
// The package deliberately stays thin: it shapes requests, classifies
// errors, and injects credentials. All pacing, pooling, batching, caching,
// and fallback behavior lives in the ratelimit, pool, batch, cache, and
// degrade packages, which consume this client as a plain collaborator.
//
// # Retryability
//
// IsRetryable is the single source of truth for whether a failed call may
// be retried: transport-level failures (no response, connection reset or
// aborted, unknown host), HTTP 5xx, and HTTP 429 are retryable; every
// other 4xx is permanent.
package api
