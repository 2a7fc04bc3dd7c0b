package cache

import (
	"context"
	"testing"
	"time"

	"paytrack/internal/log"
)

func TestLRUCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache[string](2, time.Minute)

	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatalf("empty cache returned a hit")
	}
	c.Set(ctx, "a", "1")
	c.Set(ctx, "a", "2")
	if v, ok := c.Get(ctx, "a"); !ok || v != "2" {
		t.Fatalf("expected overwritten value, got %q %v", v, ok)
	}
	c.Delete(ctx, "a")
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatalf("deleted key still present")
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache[int](2, time.Minute)

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Get(ctx, "a")
	c.Set(ctx, "c", 3)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatalf("a was recently used and should survive")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	now = now.Add(30 * time.Second)
	c.Set(ctx, "c", 3)

	now = now.Add(45 * time.Second)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatalf("a should have expired")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Fatalf("expected b swept, removed %d", removed)
	}
	if v, ok := c.Get(ctx, "c"); !ok || v != 3 {
		t.Fatalf("c should still be live")
	}
}

func TestJanitorSweeps(t *testing.T) {
	c := NewLRUCache[int](10, time.Millisecond)
	c.Set(context.Background(), "a", 1)

	j := NewJanitor(log.Discard())
	j.Register(c)
	j.Start(5 * time.Millisecond)
	defer j.Stop()

	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor never swept the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
