package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func newTestWriter(t *testing.T, store RemoteStore, cfg WriterConfig) *PartitionWriter {
	t.Helper()
	if cfg.Location == "" {
		cfg.Location = "shuffle/app-1/0/partition-0-0"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 10
	}
	w, err := NewPartitionWriter(context.Background(), store, cfg, nil)
	if err != nil {
		t.Fatalf("NewPartitionWriter: %v", err)
	}
	return w
}

func TestChunkBoundaries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := newTestWriter(t, store, WriterConfig{ChunkSize: 10})

	writeFlush := func(n int) {
		t.Helper()
		if _, err := w.Write(bytes.Repeat([]byte{0xaa}, n)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Flush(ctx, false); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}

	writeFlush(4)
	writeFlush(4)
	if offsets := w.ChunkOffsets(); len(offsets) != 0 {
		t.Fatalf("no boundary expected below chunk size, got %v", offsets)
	}
	writeFlush(6) // length 14 crosses the 10-byte boundary
	if offsets := w.ChunkOffsets(); len(offsets) != 1 || offsets[0] != 14 {
		t.Fatalf("expected boundary at 14, got %v", offsets)
	}
	writeFlush(5) // length 19, next boundary is 24
	if offsets := w.ChunkOffsets(); len(offsets) != 1 {
		t.Fatalf("unexpected boundary before 24: %v", offsets)
	}

	length, err := w.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if length != 19 {
		t.Fatalf("sealed length %d", length)
	}
	offsets := w.ChunkOffsets()
	if len(offsets) != 2 || offsets[1] != 19 {
		t.Fatalf("close must force the trailing boundary, got %v", offsets)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("offsets not strictly increasing: %v", offsets)
		}
	}
}

func TestCloseSkipsRedundantBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := newTestWriter(t, store, WriterConfig{ChunkSize: 10})

	if _, err := w.Write(bytes.Repeat([]byte{1}, 10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(ctx, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if offsets := w.ChunkOffsets(); len(offsets) != 1 || offsets[0] != 10 {
		t.Fatalf("expected single boundary at 10, got %v", offsets)
	}
}

func TestFinalFlushForcesBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := newTestWriter(t, store, WriterConfig{ChunkSize: 100})

	if _, err := w.Write([]byte("tiny")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(ctx, true); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if offsets := w.ChunkOffsets(); len(offsets) != 1 || offsets[0] != 4 {
		t.Fatalf("final flush must set a boundary, got %v", offsets)
	}
}

func TestCloseFinalizesRemoteArtifacts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	location := "shuffle/app-1/0/partition-3-0"
	w := newTestWriter(t, store, WriterConfig{Location: location, ChunkSize: 8})

	payload := []byte("0123456789abcdef")
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(ctx, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := store.Get(ctx, location, nil)
	if err != nil {
		t.Fatalf("data file missing: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("data file mismatch: %q", data)
	}
	if ok, _ := store.Exists(ctx, SuccessKey(location)); !ok {
		t.Fatalf("success marker missing")
	}
	indexBytes, err := store.Get(ctx, IndexKey(location), nil)
	if err != nil {
		t.Fatalf("index side file missing: %v", err)
	}
	offsets, err := ParseChunkIndex(indexBytes)
	if err != nil {
		t.Fatalf("ParseChunkIndex: %v", err)
	}
	if offsets[len(offsets)-1] != int64(len(payload)) {
		t.Fatalf("final offset %d != sealed length %d", offsets[len(offsets)-1], len(payload))
	}
	info := w.FileInfo()
	if !info.Finalized || info.Discarded {
		t.Fatalf("unexpected finalize state: %+v", info)
	}
}

func TestDuplicateFinalizeDiscardsOwnFile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	own := "shuffle/app-1/0/partition-5-1"
	peer := "shuffle/app-1/0/partition-5-0"

	// Peer writer already finalized.
	if err := store.Put(ctx, SuccessKey(peer), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	w := newTestWriter(t, store, WriterConfig{Location: own, PeerLocation: peer, ChunkSize: 8})
	if _, err := w.Write([]byte("duplicate bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if ok, _ := store.Exists(ctx, own); ok {
		t.Fatalf("own file should have been discarded")
	}
	if ok, _ := store.Exists(ctx, SuccessKey(own)); ok {
		t.Fatalf("own success marker must not exist")
	}
	info := w.FileInfo()
	if !info.Discarded || info.Finalized {
		t.Fatalf("unexpected finalize state: %+v", info)
	}
}

func TestFirstReplicaWinsFinalize(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := "shuffle/app-1/0/partition-7-0"
	second := "shuffle/app-1/0/partition-7-1"

	w0 := newTestWriter(t, store, WriterConfig{Location: first, PeerLocation: second, ChunkSize: 8})
	w1 := newTestWriter(t, store, WriterConfig{Location: second, PeerLocation: first, ChunkSize: 8})

	data := []byte("replicated partition data")
	for _, w := range []*PartitionWriter{w0, w1} {
		if _, err := w.Write(data); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if _, err := w0.Close(ctx); err != nil {
		t.Fatalf("Close first: %v", err)
	}
	if _, err := w1.Close(ctx); err != nil {
		t.Fatalf("Close second: %v", err)
	}

	if ok, _ := store.Exists(ctx, first); !ok {
		t.Fatalf("winning replica file missing")
	}
	if ok, _ := store.Exists(ctx, second); ok {
		t.Fatalf("losing replica should have discarded its file")
	}
	if !w1.FileInfo().Discarded {
		t.Fatalf("second writer should report discard")
	}
}

func TestWriterClosedErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := newTestWriter(t, store, WriterConfig{})

	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := w.Write([]byte("late")); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed from Write, got %v", err)
	}
	if err := w.Flush(ctx, false); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed from Flush, got %v", err)
	}
	if _, err := w.Close(ctx); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed from second Close, got %v", err)
	}
}
