package cache

import (
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := NewQueryCache(time.Minute)
	c.Set("node:1", "alice")

	got, ok := c.Get("node:1")
	if !ok || got != "alice" {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	if _, ok := c.Get("node:2"); ok {
		t.Fatal("unexpected hit for absent key")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := NewQueryCache(50 * time.Millisecond)
	c.Set("node:1", "alice")

	if _, ok := c.Get("node:1"); !ok {
		t.Fatal("fresh entry should hit")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("node:1"); ok {
		t.Fatal("expired entry should miss")
	}
	// Expired entries are evicted on access.
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted, len = %d", c.Len())
	}
}

func TestInvalidateExactKey(t *testing.T) {
	c := NewQueryCache(time.Minute)
	c.Set("node:1", "alice")
	c.Set("node:2", "bob")

	if n := c.Invalidate("node:1"); n != 1 {
		t.Fatalf("Invalidate = %d, want 1", n)
	}
	if _, ok := c.Get("node:1"); ok {
		t.Fatal("invalidated key should miss")
	}
	if _, ok := c.Get("node:2"); !ok {
		t.Fatal("other key should survive")
	}
	if n := c.Invalidate("node:999"); n != 0 {
		t.Fatalf("absent key Invalidate = %d, want 0", n)
	}
}

func TestInvalidatePattern(t *testing.T) {
	c := NewQueryCache(time.Minute)
	c.Set("query:aaa", 1)
	c.Set("query:bbb", 2)
	c.Set("node:1", "alice")

	if n := c.Invalidate("query:*"); n != 2 {
		t.Fatalf("pattern Invalidate = %d, want 2", n)
	}
	if _, ok := c.Get("query:aaa"); ok {
		t.Fatal("pattern member should be gone")
	}
	if _, ok := c.Get("node:1"); !ok {
		t.Fatal("other prefix should survive")
	}
	// The pattern registration is consumed with its members.
	if n := c.Invalidate("query:*"); n != 0 {
		t.Fatalf("second pattern Invalidate = %d, want 0", n)
	}
}

func TestClearAndCleanup(t *testing.T) {
	c := NewQueryCache(50 * time.Millisecond)
	c.Set("node:1", "a")
	c.Set("node:2", "b")

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after Clear = %d", c.Len())
	}

	c.Set("node:3", "c")
	time.Sleep(60 * time.Millisecond)
	c.Set("node:4", "d")
	if n := c.Cleanup(); n != 1 {
		t.Fatalf("Cleanup = %d, want 1", n)
	}
	if _, ok := c.Get("node:4"); !ok {
		t.Fatal("fresh entry swept by Cleanup")
	}
}

func TestStats(t *testing.T) {
	c := NewQueryCache(time.Minute)
	c.Set("node:1", "a")
	c.Get("node:1")
	c.Get("node:1")
	c.Get("node:2")

	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Fatalf("Stats = %d hits, %d misses", hits, misses)
	}
}

func TestDefaultTTL(t *testing.T) {
	c := NewQueryCache(0)
	if c.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
}
