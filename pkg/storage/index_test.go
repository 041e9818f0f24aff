package storage

import (
	"encoding/binary"
	"testing"
)

func TestChunkIndexRoundTrip(t *testing.T) {
	offsets := []int64{1024, 4096, 4100, 9000}
	data := EncodeChunkIndex(offsets)
	if len(data) != 4+8*len(offsets) {
		t.Fatalf("unexpected side file size %d", len(data))
	}
	if count := binary.BigEndian.Uint32(data[:4]); count != 4 {
		t.Fatalf("count field %d", count)
	}
	parsed, err := ParseChunkIndex(data)
	if err != nil {
		t.Fatalf("ParseChunkIndex: %v", err)
	}
	for i, offset := range offsets {
		if parsed[i] != offset {
			t.Fatalf("offset %d mismatch: %d", i, parsed[i])
		}
	}
}

func TestChunkIndexEmpty(t *testing.T) {
	parsed, err := ParseChunkIndex(EncodeChunkIndex(nil))
	if err != nil {
		t.Fatalf("ParseChunkIndex: %v", err)
	}
	if len(parsed) != 0 {
		t.Fatalf("expected no offsets, got %d", len(parsed))
	}
}

func TestChunkIndexRejectsNonIncreasing(t *testing.T) {
	if _, err := ParseChunkIndex(EncodeChunkIndex([]int64{10, 10})); err == nil {
		t.Fatalf("expected error for equal offsets")
	}
	if _, err := ParseChunkIndex(EncodeChunkIndex([]int64{20, 10})); err == nil {
		t.Fatalf("expected error for decreasing offsets")
	}
}

func TestChunkIndexRejectsTruncated(t *testing.T) {
	data := EncodeChunkIndex([]int64{5, 10})
	if _, err := ParseChunkIndex(data[:len(data)-3]); err == nil {
		t.Fatalf("expected error for truncated side file")
	}
	if _, err := ParseChunkIndex([]byte{0, 0}); err == nil {
		t.Fatalf("expected error for short input")
	}
}
