// Package health reports the runtime health of the resilience layer.
//
// Each component exposes a Checker built from its own Stats snapshot:
// the connection pool, the request queue, the batch processor, the
// cache, and the degradation manager. An Aggregator fans checks out in
// parallel and folds the results into one overall status, and the HTTP
// handlers expose liveness, readiness, and a detailed JSON report.
package health
