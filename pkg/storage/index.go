package storage

import (
	"encoding/binary"
	"fmt"
)

// Chunk index side file layout: big-endian int32 count, then count int64 chunk
// offsets. Each offset marks the end of one independently readable chunk.

// EncodeChunkIndex serializes chunk offsets into the side-file format.
func EncodeChunkIndex(offsets []int64) []byte {
	buf := make([]byte, 0, 4+8*len(offsets))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(offsets)))
	for _, offset := range offsets {
		buf = binary.BigEndian.AppendUint64(buf, uint64(offset))
	}
	return buf
}

// ParseChunkIndex decodes a side file, validating the count and that offsets
// are strictly increasing.
func ParseChunkIndex(data []byte) ([]int64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("chunk index too short: %d bytes", len(data))
	}
	count := int(int32(binary.BigEndian.Uint32(data)))
	if count < 0 {
		return nil, fmt.Errorf("chunk index count %d invalid", count)
	}
	if len(data) != 4+8*count {
		return nil, fmt.Errorf("chunk index size mismatch: count %d, %d bytes", count, len(data))
	}
	offsets := make([]int64, count)
	for i := 0; i < count; i++ {
		offsets[i] = int64(binary.BigEndian.Uint64(data[4+8*i:]))
		if offsets[i] < 0 {
			return nil, fmt.Errorf("chunk offset %d negative: %d", i, offsets[i])
		}
		if i > 0 && offsets[i] <= offsets[i-1] {
			return nil, fmt.Errorf("chunk offsets not strictly increasing at %d: %d <= %d", i, offsets[i], offsets[i-1])
		}
	}
	return offsets, nil
}
