package checkpoint

import (
	"fmt"
	"testing"
	"time"
)

func TestSeenFirstObservationIsNotDuplicate(t *testing.T) {
	c := New(time.Hour, 100, time.Minute)
	defer c.Close()

	if c.Seen("sig-1") {
		t.Error("first observation reported as duplicate")
	}
	if !c.Seen("sig-1") {
		t.Error("second observation not reported as duplicate")
	}
	if c.Seen("sig-2") {
		t.Error("unrelated signature reported as duplicate")
	}
}

func TestSeenExpiresAfterWindow(t *testing.T) {
	c := New(50*time.Millisecond, 100, time.Hour)
	defer c.Close()

	c.Seen("sig-1")
	time.Sleep(80 * time.Millisecond)

	if c.Seen("sig-1") {
		t.Error("expired signature still reported as duplicate")
	}
}

func TestSeenDuplicateRefreshesWindow(t *testing.T) {
	c := New(100*time.Millisecond, 100, time.Hour)
	defer c.Close()

	c.Seen("sig-1")
	time.Sleep(60 * time.Millisecond)
	if !c.Seen("sig-1") {
		t.Fatal("observation inside window not a duplicate")
	}
	// The second observation reset lastSeen; still within the window now.
	time.Sleep(60 * time.Millisecond)
	if !c.Seen("sig-1") {
		t.Error("refreshed signature expired too early")
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(time.Hour, 10, time.Hour)
	defer c.Close()

	for i := 0; i < 25; i++ {
		c.Seen(fmt.Sprintf("sig-%d", i))
	}

	if got := c.Len(); got > 10 {
		t.Errorf("Len() = %d, want <= 10 after eviction", got)
	}

	// The newest signature must survive the eviction.
	if !c.Seen("sig-24") {
		t.Error("most recent signature was evicted")
	}
}

func TestCleanupLoop(t *testing.T) {
	c := New(20*time.Millisecond, 100, 30*time.Millisecond)
	defer c.Close()

	c.Seen("sig-1")
	c.Seen("sig-2")

	time.Sleep(100 * time.Millisecond)

	if got := c.Len(); got != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", got)
	}
}
