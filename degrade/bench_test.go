package degrade

import (
	"context"
	"errors"
	"testing"
)

// BenchmarkManager_RecordFailure measures streak tracking under load.
func BenchmarkManager_RecordFailure(b *testing.B) {
	m := NewManager(Config{})
	err := errors.New("upstream error")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordFailure("orders", err)
	}
}

// BenchmarkManager_RecordSuccess measures the reset path.
func BenchmarkManager_RecordSuccess(b *testing.B) {
	m := NewManager(Config{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordSuccess("orders")
	}
}

// BenchmarkManager_Level measures the read path.
func BenchmarkManager_Level(b *testing.B) {
	m := NewManager(Config{})
	m.RecordFailure("orders", errors.New("boom"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Level("orders")
	}
}

// BenchmarkExecute_PrimarySuccess measures cascade overhead on the
// happy path.
func BenchmarkExecute_PrimarySuccess(b *testing.B) {
	m := NewManager(Config{})
	ctx := context.Background()
	plan := Plan[int]{
		Primary: func(ctx context.Context) (int, error) { return 1, nil },
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Execute(ctx, m, "orders", plan)
	}
}
