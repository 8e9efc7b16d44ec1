package ratelimit

import (
	"context"
	"testing"
)

// BenchmarkRequestQueue_Enqueue measures end-to-end queue latency with
// a quota far above the benchmark's reach.
func BenchmarkRequestQueue_Enqueue(b *testing.B) {
	q := NewRequestQueue(Config{RequestsPerHour: 1 << 30})
	defer q.Close()

	ctx := context.Background()
	op := func(ctx context.Context) error { return nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Enqueue(ctx, "bench", op)
	}
}

// BenchmarkRequestQueue_Stats measures the snapshot path.
func BenchmarkRequestQueue_Stats(b *testing.B) {
	q := NewRequestQueue(Config{RequestsPerHour: 1 << 30})
	defer q.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_ = q.Enqueue(ctx, "fill", func(ctx context.Context) error { return nil })
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Stats()
	}
}
