package congestion

import (
	"sync"
	"testing"
	"time"
)

func TestHubAverageWithinWindow(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	now := base
	hub := NewBufferStatusHub(10 * time.Second)
	hub.now = func() time.Time { return now }

	hub.Add(base, 1000)
	hub.Add(base.Add(time.Second), 2000)
	hub.Add(base.Add(2*time.Second), 3000)
	now = base.Add(3 * time.Second)

	if got := hub.AvgBytesPerSec(); got != 600 {
		t.Fatalf("expected 6000/10 = 600 bytes/sec, got %f", got)
	}
}

func TestHubEvictsAgedEntries(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	now := base
	hub := NewBufferStatusHub(5 * time.Second)
	hub.now = func() time.Time { return now }

	hub.Add(base, 500)
	hub.Add(base.Add(time.Second), 700)

	now = base.Add(4 * time.Second)
	if got := hub.Sum(); got != 1200 {
		t.Fatalf("expected both entries retained, sum %d", got)
	}

	// First entry ages out, second survives.
	now = base.Add(5*time.Second + time.Millisecond)
	if got := hub.Sum(); got != 700 {
		t.Fatalf("expected 700 retained, got %d", got)
	}

	// Everything past retention.
	now = base.Add(time.Minute)
	if got := hub.AvgBytesPerSec(); got != 0 {
		t.Fatalf("expected zero average after retention, got %f", got)
	}
	if got := hub.Sum(); got != 0 {
		t.Fatalf("expected zero sum after retention, got %d", got)
	}
}

func TestHubClampsBackwardsTimestamps(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	now := base
	hub := NewBufferStatusHub(time.Minute)
	hub.now = func() time.Time { return now }

	hub.Add(base.Add(2*time.Second), 10)
	hub.Add(base, 20)

	if len(hub.nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(hub.nodes))
	}
	if hub.nodes[1].ts.Before(hub.nodes[0].ts) {
		t.Fatalf("nodes out of order: %v then %v", hub.nodes[0].ts, hub.nodes[1].ts)
	}
}

func TestHubConcurrentAddAndRead(t *testing.T) {
	hub := NewBufferStatusHub(time.Minute)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				hub.Add(time.Now(), 1)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			hub.AvgBytesPerSec()
		}
	}()
	wg.Wait()

	if got := hub.Sum(); got != 4000 {
		t.Fatalf("expected 4000 bytes retained, got %d", got)
	}
}
