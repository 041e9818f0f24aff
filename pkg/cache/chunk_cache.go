package cache

import (
	"container/list"
	"fmt"
	"sync"
)

// ChunkCache provides an LRU cache keyed by partition file location and chunk
// index, bounded by total cached bytes.
type ChunkCache struct {
	mu       sync.Mutex
	capacity int
	size     int
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key  string
	data []byte
}

// NewChunkCache creates a cache with capacity in bytes.
func NewChunkCache(capacityBytes int) *ChunkCache {
	if capacityBytes <= 0 {
		capacityBytes = 1
	}
	return &ChunkCache{
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func makeKey(location string, chunk int) string {
	return fmt.Sprintf("%s#%d", location, chunk)
}

// GetChunk returns cached chunk bytes if present.
func (c *ChunkCache) GetChunk(location string, chunk int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[makeKey(location, chunk)]; ok {
		c.ll.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		return entry.data, true
	}
	return nil, false
}

// SetChunk adds or updates a cache entry.
func (c *ChunkCache) SetChunk(location string, chunk int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := makeKey(location, chunk)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		c.size -= len(entry.data)
		entry.data = append(entry.data[:0], data...)
		c.size += len(entry.data)
		c.ll.MoveToFront(elem)
		c.evictIfNeeded()
		return
	}
	entry := &cacheEntry{
		key:  key,
		data: append([]byte(nil), data...),
	}
	c.items[key] = c.ll.PushFront(entry)
	c.size += len(data)
	c.evictIfNeeded()
}

func (c *ChunkCache) evictIfNeeded() {
	for c.size > c.capacity && c.ll.Len() > 0 {
		elem := c.ll.Back()
		entry := elem.Value.(*cacheEntry)
		delete(c.items, entry.key)
		c.ll.Remove(elem)
		c.size -= len(entry.data)
	}
}
