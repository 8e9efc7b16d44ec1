package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stateset/stateset-mcp-server-sub001/api"
)

func TestRetryConfig_Defaults(t *testing.T) {
	c := RetryConfig{}.withDefaults()

	if c.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", c.MaxRetries)
	}
	if c.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", c.BaseDelay)
	}
	if c.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", c.MaxDelay)
	}
	if c.BackoffFactor != 2.0 {
		t.Errorf("BackoffFactor = %f, want 2.0", c.BackoffFactor)
	}
	if c.RetryIf == nil {
		t.Error("RetryIf is nil, want api.IsRetryable")
	}
}

func TestBackoffDelay_Bounds(t *testing.T) {
	c := RetryConfig{
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}.withDefaults()

	// Exponential base values: 1s, 2s, 4s, 8s, 16s, 30s (capped), 30s.
	wantBase := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	for attempt := 1; attempt <= len(wantBase); attempt++ {
		base := wantBase[attempt-1]
		for i := 0; i < 50; i++ {
			got := c.backoffDelay(attempt)
			if got < base {
				t.Fatalf("backoffDelay(%d) = %v, below base %v", attempt, got, base)
			}
			if got >= base+time.Second {
				t.Fatalf("backoffDelay(%d) = %v, jitter exceeds 1s above %v", attempt, got, base)
			}
		}
	}
}

func TestExecuteWithRetry_SuccessFirstAttempt(t *testing.T) {
	c := RetryConfig{BaseDelay: time.Millisecond}.withDefaults()

	attempts := 0
	err := c.executeWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("executeWithRetry() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestExecuteWithRetry_RetriesRetryable(t *testing.T) {
	c := RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}.withDefaults()

	attempts := 0
	err := c.executeWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &api.Error{StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})

	if err != nil {
		t.Errorf("executeWithRetry() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestExecuteWithRetry_NonRetryableFailsFast(t *testing.T) {
	c := RetryConfig{BaseDelay: time.Millisecond}.withDefaults()

	notFound := &api.Error{StatusCode: 404, Message: "missing"}
	attempts := 0
	err := c.executeWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return notFound
	})

	if !errors.Is(err, notFound) {
		t.Errorf("executeWithRetry() error = %v, want %v", err, notFound)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestExecuteWithRetry_ExhaustsRetries(t *testing.T) {
	c := RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}.withDefaults()

	serverErr := &api.Error{StatusCode: 500, Message: "boom"}
	attempts := 0
	var retryCalls []int
	c.OnRetry = func(attempt int, err error, delay time.Duration) {
		retryCalls = append(retryCalls, attempt)
	}

	err := c.executeWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return serverErr
	})

	if !errors.Is(err, serverErr) {
		t.Errorf("executeWithRetry() error = %v, want %v", err, serverErr)
	}
	if attempts != 3 { // initial + 2 retries
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(retryCalls) != 2 || retryCalls[0] != 1 || retryCalls[1] != 2 {
		t.Errorf("OnRetry calls = %v, want [1 2]", retryCalls)
	}
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	c := RetryConfig{BaseDelay: 10 * time.Second}.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.executeWithRetry(ctx, func(ctx context.Context) error {
		return &api.Error{StatusCode: 500}
	})

	if err != context.Canceled {
		t.Errorf("executeWithRetry() error = %v, want context.Canceled", err)
	}
}
