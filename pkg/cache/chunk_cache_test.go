package cache

import (
	"bytes"
	"testing"
)

func TestChunkCacheEviction(t *testing.T) {
	c := NewChunkCache(10)
	c.SetChunk("p0", 0, []byte("aaaa"))
	c.SetChunk("p0", 1, []byte("bbbb"))

	if _, ok := c.GetChunk("p0", 0); !ok {
		t.Fatalf("chunk 0 should be cached")
	}

	// Pushes total size past capacity; least recently used entry (chunk 1) goes.
	c.SetChunk("p1", 0, []byte("cccc"))
	if _, ok := c.GetChunk("p0", 1); ok {
		t.Fatalf("chunk 1 should have been evicted")
	}
	if data, ok := c.GetChunk("p0", 0); !ok || !bytes.Equal(data, []byte("aaaa")) {
		t.Fatalf("chunk 0 lost or corrupted")
	}
}

func TestChunkCacheUpdate(t *testing.T) {
	c := NewChunkCache(100)
	c.SetChunk("p0", 0, []byte("old"))
	c.SetChunk("p0", 0, []byte("newer"))
	data, ok := c.GetChunk("p0", 0)
	if !ok || string(data) != "newer" {
		t.Fatalf("expected updated entry, got %q ok=%v", data, ok)
	}
	if c.size != 5 {
		t.Fatalf("size accounting wrong: %d", c.size)
	}
}
