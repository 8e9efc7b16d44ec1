package degrade

import (
	"errors"
	"sync"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{Healthy, "healthy"},
		{Degraded, "degraded"},
		{Partial, "partial"},
		{Fallback, "fallback"},
		{Unavailable, "unavailable"},
		{Level(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestManager_EscalationThresholds(t *testing.T) {
	m := NewManager(Config{})

	fail := errors.New("upstream error")
	wantLevels := []Level{
		Healthy, Healthy, // failures 1, 2
		Degraded, Degraded, Degraded, // 3, 4, 5
		Fallback, Fallback, Fallback, // 6, 7, 8
		Unavailable, Unavailable, // 9, 10
	}

	for i, want := range wantLevels {
		m.RecordFailure("orders", fail)
		if got := m.Level("orders"); got != want {
			t.Errorf("after %d failures, Level = %v, want %v", i+1, got, want)
		}
	}

	st, ok := m.Status("orders")
	if !ok {
		t.Fatal("Status() missing for orders")
	}
	if st.ConsecutiveFailures != 10 {
		t.Errorf("ConsecutiveFailures = %d, want 10", st.ConsecutiveFailures)
	}
	if !st.FallbackActive {
		t.Error("FallbackActive = false at Unavailable, want true")
	}
	if st.LastError != "upstream error" {
		t.Errorf("LastError = %q, want upstream error", st.LastError)
	}
}

func TestManager_SingleSuccessResets(t *testing.T) {
	m := NewManager(Config{})

	for _, failures := range []int{3, 6, 9} {
		for i := 0; i < failures; i++ {
			m.RecordFailure("orders", errors.New("boom"))
		}
		m.RecordSuccess("orders")

		st, _ := m.Status("orders")
		if st.Level != Healthy {
			t.Errorf("after %d failures + 1 success, Level = %v, want Healthy", failures, st.Level)
		}
		if st.ConsecutiveFailures != 0 {
			t.Errorf("ConsecutiveFailures = %d after success, want 0", st.ConsecutiveFailures)
		}
		if st.FallbackActive {
			t.Error("FallbackActive = true after success, want false")
		}
	}
}

func TestManager_UnknownServiceIsHealthy(t *testing.T) {
	m := NewManager(Config{})

	if got := m.Level("never-seen"); got != Healthy {
		t.Errorf("Level(unknown) = %v, want Healthy", got)
	}
	if _, ok := m.Status("never-seen"); ok {
		t.Error("Status(unknown) ok = true, want false")
	}
}

func TestManager_SetLevel(t *testing.T) {
	m := NewManager(Config{})

	m.SetLevel("orders", Partial)
	if got := m.Level("orders"); got != Partial {
		t.Errorf("Level = %v after SetLevel(Partial), want Partial", got)
	}

	m.SetLevel("orders", Fallback)
	st, _ := m.Status("orders")
	if !st.FallbackActive {
		t.Error("FallbackActive = false at Fallback, want true")
	}
}

func TestManager_CustomThresholds(t *testing.T) {
	m := NewManager(Config{
		DegradedThreshold:    1,
		FallbackThreshold:    2,
		UnavailableThreshold: 3,
	})

	m.RecordFailure("orders", nil)
	if got := m.Level("orders"); got != Degraded {
		t.Errorf("Level = %v after 1 failure, want Degraded", got)
	}
	m.RecordFailure("orders", nil)
	if got := m.Level("orders"); got != Fallback {
		t.Errorf("Level = %v after 2 failures, want Fallback", got)
	}
	m.RecordFailure("orders", nil)
	if got := m.Level("orders"); got != Unavailable {
		t.Errorf("Level = %v after 3 failures, want Unavailable", got)
	}
}

func TestManager_Snapshot(t *testing.T) {
	m := NewManager(Config{})

	m.RecordFailure("orders", errors.New("a"))
	m.RecordFailure("returns", errors.New("b"))

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d services, want 2", len(snap))
	}
	if snap["orders"].Name != "orders" {
		t.Errorf("Snapshot orders Name = %q", snap["orders"].Name)
	}
	if snap["returns"].ConsecutiveFailures != 1 {
		t.Errorf("returns failures = %d, want 1", snap["returns"].ConsecutiveFailures)
	}
}

type levelChange struct {
	service  string
	from, to Level
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []levelChange
}

func (o *recordingObserver) LevelChanged(service string, from, to Level) {
	o.mu.Lock()
	o.changes = append(o.changes, levelChange{service: service, from: from, to: to})
	o.mu.Unlock()
}

func TestManager_ObserverNotifiedOnTransitions(t *testing.T) {
	m := NewManager(Config{})
	obs := &recordingObserver{}
	m.AddObserver(obs)

	// Nine failures cross three thresholds; one success recovers.
	for i := 0; i < 9; i++ {
		m.RecordFailure("orders", errors.New("boom"))
	}
	m.RecordSuccess("orders")
	m.RecordSuccess("orders") // already healthy, no notification

	obs.mu.Lock()
	defer obs.mu.Unlock()

	want := []levelChange{
		{"orders", Healthy, Degraded},
		{"orders", Degraded, Fallback},
		{"orders", Fallback, Unavailable},
		{"orders", Unavailable, Healthy},
	}
	if len(obs.changes) != len(want) {
		t.Fatalf("observer saw %d transitions, want %d: %+v", len(obs.changes), len(want), obs.changes)
	}
	for i, w := range want {
		if obs.changes[i] != w {
			t.Errorf("transition[%d] = %+v, want %+v", i, obs.changes[i], w)
		}
	}
}
