package degrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stateset/stateset-mcp-server-sub001/observe"
)

var (
	// ErrServiceUnavailable is returned as the primary error when a
	// service is skipped because its level is Unavailable.
	ErrServiceUnavailable = errors.New("degrade: service unavailable")

	// ErrNoPrimary is returned when a Plan has no Primary operation.
	ErrNoPrimary = errors.New("degrade: plan has no primary operation")

	// ErrPrimaryTimeout is returned when the primary operation exceeds
	// the plan timeout.
	ErrPrimaryTimeout = errors.New("degrade: primary operation timed out")
)

// Source identifies which stage of the cascade produced a result.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
	SourceStatic   Source = "static"
)

// Result is the outcome of an Execute call.
type Result[T any] struct {
	Value T

	// Source reports which stage produced Value.
	Source Source

	// Degraded is true when Value did not come from the primary.
	Degraded bool
}

// StaleReader reads a value that may be past its freshness window.
// cache.Cache satisfies it via GetStale.
type StaleReader[T any] interface {
	GetStale(ctx context.Context, key string) (T, bool)
}

// Plan describes the primary operation and its fallback cascade.
type Plan[T any] struct {
	// Primary is the normal operation. Required.
	Primary func(ctx context.Context) (T, error)

	// Fallback computes a substitute value when the primary fails.
	// Optional.
	Fallback func(ctx context.Context) (T, error)

	// Static is a fixed last-resort value. Optional.
	Static *T

	// Cache, when set together with CacheKey, supplies stale reads as
	// the first fallback stage.
	Cache    StaleReader[T]
	CacheKey string

	// SkipStale disables the stale-cache stage even when Cache is set.
	SkipStale bool

	// Timeout bounds the primary operation. Zero means no extra bound
	// beyond the caller's context.
	Timeout time.Duration
}

// Execute runs plan.Primary for the named service, recording the outcome
// with the manager, and on failure walks the fallback cascade in order:
// stale cache value, dynamic fallback, static value, then the primary's
// own error. When the service is Unavailable the primary is skipped
// outright and the cascade starts immediately.
func Execute[T any](ctx context.Context, m *Manager, service string, plan Plan[T]) (Result[T], error) {
	var zero Result[T]
	if plan.Primary == nil {
		return zero, ErrNoPrimary
	}

	var (
		value      T
		primaryErr error
	)
	if m.Level(service) == Unavailable {
		primaryErr = ErrServiceUnavailable
	} else {
		start := time.Now()
		value, primaryErr = runPrimary(ctx, plan)
		m.config.Metrics.RecordCall(ctx,
			observe.CallMeta{Component: "degrade", Operation: "primary", Service: service},
			time.Since(start), primaryErr)

		if primaryErr == nil {
			m.RecordSuccess(service)
			return Result[T]{Value: value, Source: SourcePrimary}, nil
		}
		m.RecordFailure(service, primaryErr)
	}

	m.config.Logger.Warn(ctx, "primary failed, cascading",
		observe.Field{Key: "service", Value: service},
		observe.Field{Key: "error", Value: primaryErr.Error()},
	)

	if plan.Cache != nil && plan.CacheKey != "" && !plan.SkipStale {
		if v, ok := plan.Cache.GetStale(ctx, plan.CacheKey); ok {
			return Result[T]{Value: v, Source: SourceCache, Degraded: true}, nil
		}
	}

	if plan.Fallback != nil {
		v, err := plan.Fallback(ctx)
		if err == nil {
			return Result[T]{Value: v, Source: SourceFallback, Degraded: true}, nil
		}
		// A broken fallback must not mask the cascade; log and move on.
		m.config.Logger.Warn(ctx, "dynamic fallback failed",
			observe.Field{Key: "service", Value: service},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}

	if plan.Static != nil {
		return Result[T]{Value: *plan.Static, Source: SourceStatic, Degraded: true}, nil
	}

	return zero, primaryErr
}

// runPrimary executes the primary with the plan timeout applied. The
// operation is not interrupted on timeout; its result is discarded.
func runPrimary[T any](ctx context.Context, plan Plan[T]) (T, error) {
	if plan.Timeout <= 0 {
		return plan.Primary(ctx)
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := plan.Primary(ctx)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(plan.Timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, fmt.Errorf("%w after %v", ErrPrimaryTimeout, plan.Timeout)
	}
}
