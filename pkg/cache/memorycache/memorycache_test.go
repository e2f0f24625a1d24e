package memorycache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestCache() *Cache {
	return New(&Config{
		MaxSizeBytes:  1024 * 1024,
		DefaultTTL:    time.Minute,
		EnableMetrics: true,
	})
}

func TestCache_Operations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(c *Cache)
		key     string
		want    any
		found   bool
		wantLen int
	}{
		{
			name: "正常系: stored guid is returned",
			setup: func(c *Cache) {
				_ = c.Set(ctx, "wrd:guid:crm:12", "0a1b", time.Minute)
			},
			key:     "wrd:guid:crm:12",
			want:    "0a1b",
			found:   true,
			wantLen: 1,
		},
		{
			name: "正常系: overwrite keeps one entry",
			setup: func(c *Cache) {
				_ = c.Set(ctx, "wrd:guid:crm:12", "old", time.Minute)
				_ = c.Set(ctx, "wrd:guid:crm:12", "new", time.Minute)
			},
			key:     "wrd:guid:crm:12",
			want:    "new",
			found:   true,
			wantLen: 1,
		},
		{
			name: "正常系: deleted entry is gone",
			setup: func(c *Cache) {
				_ = c.Set(ctx, "wrd:guid:crm:12", "0a1b", time.Minute)
				_ = c.Set(ctx, "wrd:guid:crm:13", "0a1c", time.Minute)
				_ = c.Delete(ctx, "wrd:guid:crm:12")
				_ = c.Delete(ctx, "wrd:guid:crm:99")
			},
			key:     "wrd:guid:crm:12",
			found:   false,
			wantLen: 1,
		},
		{
			name: "正常系: clear empties the cache",
			setup: func(c *Cache) {
				_ = c.Set(ctx, "wrd:guid:crm:12", "0a1b", time.Minute)
				_ = c.Set(ctx, "wrd:id:crm:0a1b", int64(12), time.Minute)
				_ = c.Clear(ctx)
			},
			key:     "wrd:id:crm:0a1b",
			found:   false,
			wantLen: 0,
		},
		{
			name:    "異常系: unknown key misses",
			setup:   func(c *Cache) {},
			key:     "wrd:guid:crm:404",
			found:   false,
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache()
			tt.setup(c)

			got, found := c.Get(ctx, tt.key)
			if found != tt.found {
				t.Fatalf("Get(%q) found = %v, want %v", tt.key, found, tt.found)
			}
			if found && got != tt.want {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.want)
			}
			if c.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", c.Len(), tt.wantLen)
			}
		})
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cache := New(&Config{
		MaxSizeBytes:  1024 * 1024,
		DefaultTTL:    time.Minute,
		EnableMetrics: true,
		Clock:         func() time.Time { return now },
	})

	ctx := context.Background()

	if err := cache.Set(ctx, "key1", "value1", 50*time.Millisecond); err != nil {
		t.Fatalf("failed to set value: %v", err)
	}
	if err := cache.Set(ctx, "key2", "value2", 0); err != nil {
		t.Fatalf("failed to set value: %v", err)
	}

	if _, found := cache.Get(ctx, "key1"); !found {
		t.Error("expected to find key1 before expiration")
	}

	now = now.Add(100 * time.Millisecond)
	if _, found := cache.Get(ctx, "key1"); found {
		t.Error("expected not to find key1 after expiration")
	}
	if _, found := cache.Get(ctx, "key2"); !found {
		t.Error("expected key2 to use the default TTL")
	}

	now = now.Add(time.Minute)
	if _, found := cache.Get(ctx, "key2"); found {
		t.Error("expected not to find key2 after the default TTL")
	}
	if cache.Len() != 0 {
		t.Errorf("expected expired entries to be dropped, got %d", cache.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	// Create a cache with very small capacity
	cache := New(&Config{
		MaxSizeBytes:  200, // Very small
		DefaultTTL:    time.Minute,
		EnableMetrics: true,
	})

	ctx := context.Background()

	// Add multiple items
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		err := cache.Set(ctx, key, i, time.Minute)
		if err != nil {
			t.Fatalf("failed to set value: %v", err)
		}
	}

	// Cache should have evicted older items
	if cache.Len() >= 10 {
		t.Errorf("expected less than 10 items due to eviction, got %d", cache.Len())
	}

	// Most recent items should still be present
	_, found := cache.Get(ctx, "j") // last item
	if !found {
		t.Error("expected to find most recent item 'j'")
	}
}


func TestCache_Metrics(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	if m := c.Metrics(); m.Hits != 0 || m.Misses != 0 {
		t.Fatalf("expected no hits or misses initially, got %d/%d", m.Hits, m.Misses)
	}
	_ = c.Set(ctx, "wrd:guid:crm:12", "0a1b", time.Minute)
	c.Get(ctx, "wrd:guid:crm:12")
	c.Get(ctx, "wrd:guid:crm:13")

	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", m.Hits, m.Misses)
	}
	if m.HitRate() != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", m.HitRate())
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for id := range 100 {
				_ = c.Set(ctx, fmt.Sprintf("wrd:guid:s%d:%d", w, id), id, time.Minute)
			}
		}()
		go func() {
			defer wg.Done()
			for id := range 100 {
				c.Get(ctx, fmt.Sprintf("wrd:guid:s%d:%d", w, id))
			}
			_, _ = c.DeletePrefix(ctx, fmt.Sprintf("wrd:guid:s%d:", w))
		}()
	}
	wg.Wait()

	if m := c.Metrics(); m.Hits+m.Misses != 800 {
		t.Errorf("expected 800 lookups, got %d", m.Hits+m.Misses)
	}
}

func TestCache_DeletePrefix(t *testing.T) {
	cache := New(&Config{MaxSizeBytes: 1024 * 1024, DefaultTTL: time.Minute})
	ctx := context.Background()

	cache.Set(ctx, "wrd:guid:shop:1", "a", 0)
	cache.Set(ctx, "wrd:guid:shop:2", "b", 0)
	cache.Set(ctx, "wrd:guid:crm:1", "c", 0)

	removed, err := cache.DeletePrefix(ctx, "wrd:guid:shop:")
	if err != nil {
		t.Fatalf("failed to delete prefix: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if _, found := cache.Get(ctx, "wrd:guid:crm:1"); !found {
		t.Error("expected other schema to be kept")
	}
	if cache.Size() != sizeOf("wrd:guid:crm:1", "c") {
		t.Errorf("unexpected size %d after prefix delete", cache.Size())
	}
}

type sized int64

func (s sized) Size() int64 { return int64(s) }

func TestCache_SizerAccounting(t *testing.T) {
	cache := New(&Config{MaxSizeBytes: 1600, DefaultTTL: time.Minute, EnableMetrics: true})
	ctx := context.Background()

	cache.Set(ctx, "a", sized(450), 0)
	cache.Set(ctx, "b", sized(450), 0)
	if cache.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", cache.Len())
	}

	// Touch a so that b becomes least recently used
	cache.Get(ctx, "a")
	cache.Set(ctx, "c", sized(450), 0)

	if _, found := cache.Get(ctx, "b"); found {
		t.Error("expected b to be evicted")
	}
	if _, found := cache.Get(ctx, "a"); !found {
		t.Error("expected recently used a to be kept")
	}
	if cache.Metrics().KeysEvicted != 1 {
		t.Errorf("expected 1 eviction, got %d", cache.Metrics().KeysEvicted)
	}
}
