package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory RemoteStore used in tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), body...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string, rng *ByteRange) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if rng == nil {
		return append([]byte(nil), data...), nil
	}
	if rng.Start < 0 || rng.End >= int64(len(data)) || rng.Start > rng.End {
		return nil, fmt.Errorf("get %s: range %d-%d outside %d bytes", key, rng.Start, rng.End, len(data))
	}
	return append([]byte(nil), data[rng.Start:rng.End+1]...), nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]StoreObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoreObject
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, StoreObject{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) NewAppender(_ context.Context, key string) (Appender, error) {
	return &memoryAppender{store: s, key: key}, nil
}

type memoryAppender struct {
	store   *MemoryStore
	key     string
	pending []byte
	done    bool
}

func (a *memoryAppender) Append(_ context.Context, data []byte) error {
	if a.done {
		return fmt.Errorf("append %s: appender finished", a.key)
	}
	a.pending = append(a.pending, data...)
	return nil
}

func (a *memoryAppender) Complete(ctx context.Context) error {
	if a.done {
		return fmt.Errorf("complete %s: appender finished", a.key)
	}
	a.done = true
	return a.store.Put(ctx, a.key, a.pending)
}

func (a *memoryAppender) Abort(_ context.Context) error {
	a.done = true
	a.pending = nil
	return nil
}
