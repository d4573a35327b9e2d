package ratelimit

import (
	"testing"
	"time"
)

func TestAllowFirstCallPasses(t *testing.T) {
	l := New()
	if !l.Allow("k", 1, 2) {
		t.Fatalf("expected first call to pass")
	}
}

func TestAllowThrottlesWithinWindow(t *testing.T) {
	l := New()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("k", 1, 2) {
		t.Fatalf("expected first call to pass")
	}
	// 10ms later: not enough refill for another token at 2/s.
	now = now.Add(10 * time.Millisecond)
	if l.Allow("k", 1, 2) {
		t.Fatalf("expected second call to be throttled")
	}
	// 500ms after the first call the bucket holds one token again.
	now = now.Add(490 * time.Millisecond)
	if !l.Allow("k", 1, 2) {
		t.Fatalf("expected call after window to pass")
	}
}

func TestAllowCapsAtCapacity(t *testing.T) {
	l := New()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("k", 1, 2) {
		t.Fatalf("expected first call to pass")
	}
	// A long idle period must not bank more than one token.
	now = now.Add(time.Minute)
	if !l.Allow("k", 1, 2) {
		t.Fatalf("expected pass after idle")
	}
	if l.Allow("k", 1, 2) {
		t.Fatalf("expected immediate repeat to be throttled")
	}
}

func TestReset(t *testing.T) {
	l := New()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("k", 1, 2)
	l.Reset("k")
	if !l.Allow("k", 1, 2) {
		t.Fatalf("expected pass after reset")
	}
}
