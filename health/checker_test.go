package health

import (
	"context"
	"errors"
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestResultConstructors(t *testing.T) {
	h := Healthy("all good")
	if h.Status != StatusHealthy || h.Message != "all good" {
		t.Errorf("Healthy() = %+v", h)
	}
	if h.Timestamp.IsZero() {
		t.Error("Healthy() timestamp not set")
	}

	d := Degraded("slowing down")
	if d.Status != StatusDegraded || d.Message != "slowing down" {
		t.Errorf("Degraded() = %+v", d)
	}

	cause := errors.New("connection refused")
	u := Unhealthy("down", cause)
	if u.Status != StatusUnhealthy || u.Error != cause {
		t.Errorf("Unhealthy() = %+v", u)
	}
}

func TestResult_WithDetails(t *testing.T) {
	r := Healthy("ok").WithDetails(map[string]any{"entries": 5})
	if r.Details["entries"] != 5 {
		t.Errorf("Details = %v, want entries=5", r.Details)
	}
	if r.Status != StatusHealthy {
		t.Errorf("Status = %v after WithDetails, want healthy", r.Status)
	}
}

func TestCheckerFunc(t *testing.T) {
	called := false
	checker := NewCheckerFunc("upstream", func(ctx context.Context) Result {
		called = true
		return Healthy("reachable")
	})

	if checker.Name() != "upstream" {
		t.Errorf("Name() = %q, want upstream", checker.Name())
	}

	result := checker.Check(context.Background())
	if !called {
		t.Error("Check() did not invoke the function")
	}
	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", result.Status)
	}
}
