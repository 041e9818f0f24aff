package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrWriterClosed is returned when writing to or closing a sealed writer.
var ErrWriterClosed = errors.New("partition writer closed")

// WriterConfig configures one partition writer.
type WriterConfig struct {
	// Location is the store key of this writer's partition file.
	Location string
	// PeerLocation is the replica peer's key when the partition is written by
	// duplicate concurrent writers; empty otherwise.
	PeerLocation string
	// ChunkSize is the target cumulative byte count between chunk boundaries.
	ChunkSize int64
	Logger    *slog.Logger
}

// FileInfo tracks one partition file. Mutated only by its owning writer and
// sealed at close.
type FileInfo struct {
	Location     string
	Length       int64
	ChunkOffsets []int64
	Finalized    bool
	Discarded    bool
}

// PartitionWriter persists one partition's byte stream with a chunk index
// enabling independent range reads. Ordinary flushes are serialized by the
// single producing pipeline; Close is mutually exclusive with everything.
type PartitionWriter struct {
	cfg      WriterConfig
	store    RemoteStore
	appender Appender
	sem      *semaphore.Weighted
	logger   *slog.Logger

	mu           sync.Mutex
	info         FileInfo
	nextBoundary int64
	staged       []byte
	closed       bool
}

// NewPartitionWriter opens a writer over store at cfg.Location.
func NewPartitionWriter(ctx context.Context, store RemoteStore, cfg WriterConfig, sem *semaphore.Weighted) (*PartitionWriter, error) {
	if cfg.Location == "" {
		return nil, errors.New("writer location required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appender, err := store.NewAppender(ctx, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("open appender %s: %w", cfg.Location, err)
	}
	return &PartitionWriter{
		cfg:          cfg,
		store:        store,
		appender:     appender,
		sem:          sem,
		logger:       logger,
		info:         FileInfo{Location: cfg.Location},
		nextBoundary: cfg.ChunkSize,
	}, nil
}

func (w *PartitionWriter) acquire(ctx context.Context) error {
	if w.sem == nil {
		return nil
	}
	return w.sem.Acquire(ctx, 1)
}

func (w *PartitionWriter) release() {
	if w.sem != nil {
		w.sem.Release(1)
	}
}

// Write stages bytes for the next flush.
func (w *PartitionWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	w.staged = append(w.staged, data...)
	return len(data), nil
}

// Flush durably appends staged bytes, then records a chunk boundary if the
// flushed length reached the target or a final flush was requested.
func (w *PartitionWriter) Flush(ctx context.Context, finalFlush bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	return w.flushLocked(ctx, finalFlush)
}

func (w *PartitionWriter) flushLocked(ctx context.Context, finalFlush bool) error {
	if len(w.staged) > 0 {
		if err := w.acquire(ctx); err != nil {
			return err
		}
		err := w.appender.Append(ctx, w.staged)
		w.release()
		if err != nil {
			return fmt.Errorf("append %s: %w", w.cfg.Location, err)
		}
		w.info.Length += int64(len(w.staged))
		w.staged = w.staged[:0]
	}
	w.maybeAddChunkOffsetLocked(finalFlush)
	return nil
}

// maybeAddChunkOffsetLocked appends the current flushed length to the chunk
// index once the boundary is reached or on force, then advances the boundary by
// one chunk size. The index stays append-only and strictly increasing.
func (w *PartitionWriter) maybeAddChunkOffsetLocked(force bool) {
	length := w.info.Length
	if length < w.nextBoundary && !force {
		return
	}
	if n := len(w.info.ChunkOffsets); n > 0 && w.info.ChunkOffsets[n-1] == length {
		return
	}
	w.info.ChunkOffsets = append(w.info.ChunkOffsets, length)
	w.nextBoundary = length + w.cfg.ChunkSize
}

func (w *PartitionWriter) chunkOffsetValidLocked() bool {
	// The last record may have been flushed without crossing a boundary; its
	// bytes still need a terminating chunk offset before the file seals.
	n := len(w.info.ChunkOffsets)
	return n > 0 && w.info.ChunkOffsets[n-1] == w.info.Length
}

// Close flushes trailing data, self-heals a missing final chunk boundary and
// finalizes the file in the store. When a peer writer's success marker already
// exists the own file is discarded; otherwise this writer creates its marker
// and persists the chunk index side file. Returns the sealed file length.
func (w *PartitionWriter) Close(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	if len(w.staged) > 0 {
		if err := w.flushLocked(ctx, true); err != nil {
			return 0, err
		}
	}
	if !w.chunkOffsetValidLocked() {
		w.maybeAddChunkOffsetLocked(true)
	}
	if err := w.finalizeLocked(ctx); err != nil {
		return 0, err
	}
	w.closed = true
	w.logger.Info("partition writer sealed",
		"location", w.cfg.Location,
		"length", w.info.Length,
		"chunks", len(w.info.ChunkOffsets),
		"discarded", w.info.Discarded)
	return w.info.Length, nil
}

func (w *PartitionWriter) finalizeLocked(ctx context.Context) error {
	if w.cfg.PeerLocation != "" {
		if err := w.acquire(ctx); err != nil {
			return err
		}
		exists, err := w.store.Exists(ctx, SuccessKey(w.cfg.PeerLocation))
		w.release()
		if err != nil {
			return fmt.Errorf("check peer success marker: %w", err)
		}
		if exists {
			// A duplicate writer already finalized this partition.
			if err := w.appender.Abort(ctx); err != nil {
				return fmt.Errorf("discard duplicate file %s: %w", w.cfg.Location, err)
			}
			w.info.Discarded = true
			return nil
		}
	}
	if err := w.acquire(ctx); err != nil {
		return err
	}
	err := w.appender.Complete(ctx)
	w.release()
	if err != nil {
		return fmt.Errorf("complete %s: %w", w.cfg.Location, err)
	}

	indexBytes := EncodeChunkIndex(w.info.ChunkOffsets)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.acquire(gctx); err != nil {
			return err
		}
		defer w.release()
		if err := w.store.Put(gctx, SuccessKey(w.cfg.Location), nil); err != nil {
			return fmt.Errorf("write success marker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := w.acquire(gctx); err != nil {
			return err
		}
		defer w.release()
		if err := w.store.Put(gctx, IndexKey(w.cfg.Location), indexBytes); err != nil {
			return fmt.Errorf("write chunk index: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	w.info.Finalized = true
	return nil
}

// FileInfo returns a snapshot of the writer's file state.
func (w *PartitionWriter) FileInfo() FileInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	info := w.info
	info.ChunkOffsets = append([]int64(nil), w.info.ChunkOffsets...)
	return info
}

// ChunkOffsets returns a copy of the chunk index.
func (w *PartitionWriter) ChunkOffsets() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int64(nil), w.info.ChunkOffsets...)
}
