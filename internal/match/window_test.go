package match

import (
	"testing"
	"time"
)

func TestWindow_AllowsUpToMax(t *testing.T) {
	w := NewWindow(3, 10*time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !w.Allow(now.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if w.Allow(now.Add(3 * time.Second)) {
		t.Error("fourth attempt inside the window should be rejected")
	}
}

func TestWindow_RejectedNotCounted(t *testing.T) {
	w := NewWindow(3, 10*time.Second)
	now := time.Now()

	w.Allow(now)
	w.Allow(now)
	w.Allow(now)

	// Spam during the penalty: none of these may extend it.
	for i := 1; i <= 5; i++ {
		if w.Allow(now.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("attempt at +%ds should be rejected", i)
		}
	}

	// The first three expire 10s after they were recorded.
	if !w.Allow(now.Add(10*time.Second + time.Millisecond)) {
		t.Error("attempt after the window expired should be allowed")
	}
}

func TestWindow_SlidingEviction(t *testing.T) {
	w := NewWindow(2, 10*time.Second)
	now := time.Now()

	w.Allow(now)
	w.Allow(now.Add(6 * time.Second))

	if w.Allow(now.Add(8 * time.Second)) {
		t.Error("two entries still in window, should reject")
	}
	// First entry evicted at +10s; one slot free.
	if !w.Allow(now.Add(11 * time.Second)) {
		t.Error("oldest entry should have expired")
	}
}

func TestWindow_BoundedMemory(t *testing.T) {
	w := NewWindow(3, 10*time.Second)
	now := time.Now()
	for i := 0; i < 1000; i++ {
		w.Allow(now)
	}
	if len(w.times) > 3 {
		t.Errorf("window grew beyond max: %d entries", len(w.times))
	}
}
