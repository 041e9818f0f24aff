package storage

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/FMX/RemoteShuffleService-1/pkg/cache"
)

// ChunkReader serves independent range reads over a sealed partition file,
// driven by its chunk index side file.
type ChunkReader struct {
	store    RemoteStore
	cache    *cache.ChunkCache
	sem      *semaphore.Weighted
	location string
	offsets  []int64
}

// OpenChunkReader loads and validates the chunk index for location.
func OpenChunkReader(ctx context.Context, store RemoteStore, chunkCache *cache.ChunkCache, location string, sem *semaphore.Weighted) (*ChunkReader, error) {
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	indexBytes, err := store.Get(ctx, IndexKey(location), nil)
	if sem != nil {
		sem.Release(1)
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk index %s: %w", location, err)
	}
	offsets, err := ParseChunkIndex(indexBytes)
	if err != nil {
		return nil, fmt.Errorf("parse chunk index %s: %w", location, err)
	}
	return &ChunkReader{
		store:    store,
		cache:    chunkCache,
		sem:      sem,
		location: location,
		offsets:  offsets,
	}, nil
}

// NumChunks reports how many chunks the sealed file holds.
func (r *ChunkReader) NumChunks() int {
	return len(r.offsets)
}

// Length reports the sealed file length.
func (r *ChunkReader) Length() int64 {
	if len(r.offsets) == 0 {
		return 0
	}
	return r.offsets[len(r.offsets)-1]
}

// ReadChunk fetches chunk i through a range read, consulting the cache first.
func (r *ChunkReader) ReadChunk(ctx context.Context, i int) ([]byte, error) {
	if i < 0 || i >= len(r.offsets) {
		return nil, fmt.Errorf("chunk %d out of range [0,%d)", i, len(r.offsets))
	}
	if r.cache != nil {
		if data, ok := r.cache.GetChunk(r.location, i); ok {
			return data, nil
		}
	}
	var start int64
	if i > 0 {
		start = r.offsets[i-1]
	}
	end := r.offsets[i] - 1
	if end < start {
		return nil, fmt.Errorf("chunk %d empty: %d-%d", i, start, end)
	}
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	data, err := r.store.Get(ctx, r.location, &ByteRange{Start: start, End: end})
	if r.sem != nil {
		r.sem.Release(1)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %d of %s: %w", i, r.location, err)
	}
	if r.cache != nil {
		r.cache.SetChunk(r.location, i, data)
	}
	return data, nil
}
