package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrInvalidKey},
		{"valid key", "stateset:orders:abc123", nil},
		{"too long", strings.Repeat("x", MaxKeyLength+1), ErrKeyTooLong},
		{"contains newline", "key\nwith\nnewlines", ErrInvalidKey},
		{"contains carriage return", "key\rwith\rreturns", ErrInvalidKey},
		{"whitespace only", "   ", ErrInvalidKey},
		{"max length exactly", strings.Repeat("x", MaxKeyLength), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateKey(%q) = %v, want nil", tt.key, err)
				}
			} else {
				if err != tt.wantErr {
					t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
				}
			}
		})
	}
}

func TestCache_SetGet(t *testing.T) {
	c := New[string](Config[string]{})
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "stateset:orders:a", "order-a", SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := c.Get(ctx, "stateset:orders:a")
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got != "order-a" {
		t.Errorf("Get() = %q, want order-a", got)
	}

	if _, ok := c.Get(ctx, "stateset:orders:absent"); ok {
		t.Error("Get() hit for absent key, want miss")
	}

	s := c.Stats()
	if s.Hits != 1 {
		t.Errorf("Hits = %d, want 1", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1", s.Misses)
	}
	if s.HitRate != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", s.HitRate)
	}
}

func TestCache_RejectsInvalidKey(t *testing.T) {
	c := New[string](Config[string]{})
	defer c.Close()

	if err := c.Set(context.Background(), "", "v", SetOptions{}); err != ErrInvalidKey {
		t.Errorf("Set(empty key) = %v, want ErrInvalidKey", err)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[string](Config[string]{})
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "stateset:orders:short", "v", SetOptions{TTL: 100 * time.Millisecond}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok := c.Get(ctx, "stateset:orders:short"); !ok {
		t.Fatal("Get() miss before expiry, want hit")
	}

	time.Sleep(150 * time.Millisecond)

	if _, ok := c.Get(ctx, "stateset:orders:short"); ok {
		t.Error("Get() hit after expiry, want miss")
	}
	if s := c.Stats(); s.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", s.Expirations)
	}
}

func TestCache_GetStale(t *testing.T) {
	c := New[string](Config[string]{})
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "stateset:orders:stale", "old-value", SetOptions{TTL: 50 * time.Millisecond}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	// The live read misses and moves the entry to the stale store.
	if _, ok := c.Get(ctx, "stateset:orders:stale"); ok {
		t.Fatal("Get() hit after expiry, want miss")
	}

	got, ok := c.GetStale(ctx, "stateset:orders:stale")
	if !ok {
		t.Fatal("GetStale() miss, want stale hit")
	}
	if got != "old-value" {
		t.Errorf("GetStale() = %q, want old-value", got)
	}

	// Fresh entries are served live through GetStale too.
	if err := c.Set(ctx, "stateset:orders:fresh", "new-value", SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, ok := c.GetStale(ctx, "stateset:orders:fresh"); !ok || got != "new-value" {
		t.Errorf("GetStale(fresh) = %q, %v, want new-value, true", got, ok)
	}
}

func TestCache_SweepMovesExpiredToStale(t *testing.T) {
	c := New[string](Config[string]{SweepInterval: time.Hour})
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "stateset:orders:swept", "v", SetOptions{TTL: time.Millisecond}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	c.sweep(time.Now())

	s := c.Stats()
	if s.Entries != 0 {
		t.Errorf("Entries = %d after sweep, want 0", s.Entries)
	}
	if s.StaleEntries != 1 {
		t.Errorf("StaleEntries = %d after sweep, want 1", s.StaleEntries)
	}

	// A sweep past the stale grace window discards the value entirely.
	c.sweep(time.Now().Add(2 * time.Hour))
	if s := c.Stats(); s.StaleEntries != 0 {
		t.Errorf("StaleEntries = %d after grace window, want 0", s.StaleEntries)
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[string](Config[string]{})
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "stateset:orders:del", "v", SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Delete(ctx, "stateset:orders:del"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, "stateset:orders:del"); ok {
		t.Error("Get() hit after Delete, want miss")
	}
	if err := c.Delete(ctx, "stateset:orders:del"); err != nil {
		t.Errorf("Delete() of absent key = %v, want nil", err)
	}
}

func TestCache_DeleteByTags(t *testing.T) {
	c := New[string](Config[string]{})
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "stateset:orders:1", "a", SetOptions{Tags: []string{"orders", "customer:1"}})
	_ = c.Set(ctx, "stateset:orders:2", "b", SetOptions{Tags: []string{"orders"}})
	_ = c.Set(ctx, "stateset:returns:1", "c", SetOptions{Tags: []string{"returns"}})

	removed := c.DeleteByTags(ctx, []string{"orders"})
	if removed != 2 {
		t.Errorf("DeleteByTags() = %d, want 2", removed)
	}

	if _, ok := c.Get(ctx, "stateset:orders:1"); ok {
		t.Error("tagged entry survived DeleteByTags")
	}
	if _, ok := c.Get(ctx, "stateset:returns:1"); !ok {
		t.Error("untagged entry removed by DeleteByTags")
	}
}

func TestCache_MGetMSet(t *testing.T) {
	c := New[int](Config[int]{})
	defer c.Close()

	ctx := context.Background()
	err := c.MSet(ctx, map[string]int{
		"stateset:orders:1": 1,
		"stateset:orders:2": 2,
	}, SetOptions{})
	if err != nil {
		t.Fatalf("MSet() error = %v", err)
	}

	got := c.MGet(ctx, []string{"stateset:orders:1", "stateset:orders:2", "stateset:orders:3"})
	if len(got) != 2 {
		t.Fatalf("MGet() returned %d values, want 2", len(got))
	}
	if got["stateset:orders:1"] != 1 || got["stateset:orders:2"] != 2 {
		t.Errorf("MGet() = %v", got)
	}
}

func TestCache_MSetInvalidKeyStops(t *testing.T) {
	c := New[int](Config[int]{})
	defer c.Close()

	err := c.MSet(context.Background(), map[string]int{"": 1}, SetOptions{})
	if err != ErrInvalidKey {
		t.Errorf("MSet() error = %v, want ErrInvalidKey", err)
	}
}

func TestCache_ReplaceAccountsMemory(t *testing.T) {
	c := New[string](Config[string]{})
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "stateset:orders:x", strings.Repeat("a", 100), SetOptions{})
	first := c.Stats().MemoryBytes
	_ = c.Set(ctx, "stateset:orders:x", "b", SetOptions{})
	second := c.Stats().MemoryBytes

	if second >= first {
		t.Errorf("MemoryBytes = %d after shrinking replace, want < %d", second, first)
	}
	if s := c.Stats(); s.Entries != 1 {
		t.Errorf("Entries = %d, want 1", s.Entries)
	}
}

func TestCache_CloseRejectsWrites(t *testing.T) {
	c := New[string](Config[string]{})
	c.Close()
	c.Close() // idempotent

	if err := c.Set(context.Background(), "stateset:orders:late", "v", SetOptions{}); err != ErrCacheClosed {
		t.Errorf("Set() after Close = %v, want ErrCacheClosed", err)
	}
}

func TestCache_ObserverNotified(t *testing.T) {
	obs := &recordingObserver{}
	c := New[string](Config[string]{Observer: obs})
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "stateset:orders:obs", "v", SetOptions{TTL: time.Millisecond})
	time.Sleep(10 * time.Millisecond)
	c.Get(ctx, "stateset:orders:obs")

	if len(obs.set) != 1 || obs.set[0] != "stateset:orders:obs" {
		t.Errorf("EntrySet calls = %v", obs.set)
	}
	if len(obs.expired) != 1 || obs.expired[0] != "stateset:orders:obs" {
		t.Errorf("EntryExpired calls = %v", obs.expired)
	}
}

type recordingObserver struct {
	set     []string
	evicted []string
	expired []string
}

func (o *recordingObserver) EntrySet(key string)     { o.set = append(o.set, key) }
func (o *recordingObserver) EntryEvicted(key string) { o.evicted = append(o.evicted, key) }
func (o *recordingObserver) EntryExpired(key string) { o.expired = append(o.expired, key) }
