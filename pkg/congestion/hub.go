package congestion

import (
	"sync"
	"time"
)

// statusNode is one ingestion observation.
type statusNode struct {
	ts    time.Time
	bytes int64
}

// BufferStatusHub is a time-windowed byte-rate accumulator. Appends come from
// the ingestion path while a periodic poller reads with eviction; a coarse lock
// keeps both sides from losing or double-counting entries. One instance exists
// per user plus one shared worker-wide instance.
type BufferStatusHub struct {
	mu     sync.Mutex
	window time.Duration
	nodes  []statusNode
	sum    int64
	now    func() time.Time
}

// NewBufferStatusHub creates a hub retaining entries for the given window.
func NewBufferStatusHub(window time.Duration) *BufferStatusHub {
	return &BufferStatusHub{window: window, now: time.Now}
}

// Add appends one observation. Entries stay time-ordered; a timestamp behind
// the newest retained entry is clamped forward to it.
func (h *BufferStatusHub) Add(t time.Time, numBytes int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.nodes); n > 0 && t.Before(h.nodes[n-1].ts) {
		t = h.nodes[n-1].ts
	}
	h.nodes = append(h.nodes, statusNode{ts: t, bytes: numBytes})
	h.sum += numBytes
	h.evictLocked(h.now())
}

// AvgBytesPerSec evicts entries older than the window and returns the rolling
// average over the full window duration.
func (h *BufferStatusHub) AvgBytesPerSec() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictLocked(h.now())
	if h.window <= 0 {
		return 0
	}
	return float64(h.sum) / h.window.Seconds()
}

// Sum returns the byte total currently retained in the window.
func (h *BufferStatusHub) Sum() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictLocked(h.now())
	return h.sum
}

func (h *BufferStatusHub) evictLocked(now time.Time) {
	cutoff := now.Add(-h.window)
	i := 0
	for ; i < len(h.nodes); i++ {
		if h.nodes[i].ts.After(cutoff) {
			break
		}
		h.sum -= h.nodes[i].bytes
	}
	if i > 0 {
		h.nodes = append(h.nodes[:0], h.nodes[i:]...)
	}
}
