package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllowUnderLimit(t *testing.T) {
	t.Parallel()
	l := New(10, time.Minute)

	for i := 0; i < 10; i++ {
		if !l.Allow("ws_1") {
			t.Fatalf("submission %d should be admitted", i+1)
		}
	}
	if l.Allow("ws_1") {
		t.Error("11th submission should be rejected")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(2, time.Minute)

	l.Allow("ws_a")
	l.Allow("ws_a")
	if l.Allow("ws_a") {
		t.Error("ws_a should be exhausted")
	}
	if !l.Allow("ws_b") {
		t.Error("ws_b should have its own budget")
	}
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := New(2, time.Minute, WithClock(clock))

	l.Allow("ws_1")
	now = now.Add(30 * time.Second)
	l.Allow("ws_1")
	if l.Allow("ws_1") {
		t.Fatal("third submission inside the window should be rejected")
	}

	// The first hit ages out 61 seconds after it landed.
	now = now.Add(31 * time.Second)
	if !l.Allow("ws_1") {
		t.Error("submission should be admitted once the oldest hit leaves the window")
	}
}

func TestRejectionConsumesNoBudget(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(1, time.Minute, WithClock(func() time.Time { return now }))

	l.Allow("ws_1")
	for i := 0; i < 5; i++ {
		l.Allow("ws_1")
	}

	// Only the single admitted hit occupies the window, so one slot opens
	// as soon as it expires.
	now = now.Add(61 * time.Second)
	if !l.Allow("ws_1") {
		t.Error("rejected attempts must not extend the window")
	}
}

func TestRemaining(t *testing.T) {
	t.Parallel()
	l := New(3, time.Minute)

	if got := l.Remaining("ws_1"); got != 3 {
		t.Errorf("Remaining = %d, want 3", got)
	}
	l.Allow("ws_1")
	l.Allow("ws_1")
	if got := l.Remaining("ws_1"); got != 1 {
		t.Errorf("Remaining = %d, want 1", got)
	}
}

func TestConcurrentAllowAdmitsExactlyLimit(t *testing.T) {
	t.Parallel()
	l := New(10, time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("ws_1") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 10 {
		t.Errorf("admitted %d concurrent submissions, want exactly 10", got)
	}
}
