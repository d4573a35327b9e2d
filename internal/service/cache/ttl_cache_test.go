package cache

import (
	"testing"
	"time"
)

func TestTTLSetGet(t *testing.T) {
	c := NewTTL(time.Minute)
	defer c.Close()

	c.Set("k", []byte("v"), 0)
	got, ok := c.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("Get(k) = %q, %v; want v, true", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get(missing) reported a hit")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL(time.Minute)
	defer c.Close()

	c.Set("k", []byte("v"), 10*time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired before its ttl")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry readable past its ttl")
	}
}

func TestTTLJanitorEvicts(t *testing.T) {
	c := NewTTL(10 * time.Millisecond)
	defer c.Close()

	c.Set("a", []byte("1"), 5*time.Millisecond)
	c.Set("b", []byte("2"), 0)
	deadline := time.Now().Add(time.Second)
	for c.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("after sweep Len() = %d, want 1", got)
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("unexpired entry evicted")
	}
}

func TestTTLDelete(t *testing.T) {
	c := NewTTL(time.Minute)
	defer c.Close()

	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("2"), 0)
	c.Delete("a", "b")
	if got := c.Len(); got != 0 {
		t.Fatalf("after delete Len() = %d, want 0", got)
	}
}
