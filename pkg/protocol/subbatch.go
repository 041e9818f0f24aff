package protocol

import (
	"encoding/binary"
	"fmt"
)

// Record is one key/value pair inside a sub-batch payload. The slices may alias
// a producer's serialization buffer; EncodeSubBatch copies them.
type Record struct {
	Key   []byte
	Value []byte
}

// subBatchTerminatorSize is the two varint -1 sentinels closing a sub-batch.
var subBatchTerminatorSize = VarintSize(-1) * 2

// SubBatchOverhead reports the encoded size of records beyond their raw
// key/value bytes: per-record varint lengths plus the terminator.
func SubBatchOverhead(records []Record) int {
	extra := subBatchTerminatorSize
	for _, rec := range records {
		extra += VarintSize(int64(len(rec.Key)))
		extra += VarintSize(int64(len(rec.Value)))
	}
	return extra
}

// EncodeSubBatch serializes records into one push/merge payload:
// int32 total length, then per record {varint keyLen, varint valLen, key, value},
// closed by varint -1 twice. The length prefix counts everything after itself.
func EncodeSubBatch(records []Record) []byte {
	kvTotal := 0
	for _, rec := range records {
		kvTotal += len(rec.Key) + len(rec.Value)
	}
	total := kvTotal + SubBatchOverhead(records)
	buf := make([]byte, 4, 4+total)
	binary.BigEndian.PutUint32(buf, uint32(total))
	for _, rec := range records {
		buf = AppendVarint(buf, int64(len(rec.Key)))
		buf = AppendVarint(buf, int64(len(rec.Value)))
		buf = append(buf, rec.Key...)
		buf = append(buf, rec.Value...)
	}
	buf = AppendVarint(buf, -1)
	buf = AppendVarint(buf, -1)
	return buf
}

// ParseSubBatch decodes a sub-batch payload back into records. Truncated or
// unterminated payloads are decode errors.
func ParseSubBatch(payload []byte) ([]Record, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("sub-batch too short: %d bytes", len(payload))
	}
	total := int(int32(binary.BigEndian.Uint32(payload)))
	body := payload[4:]
	if total < 0 || total != len(body) {
		return nil, fmt.Errorf("sub-batch length mismatch: prefix %d, body %d", total, len(body))
	}
	var records []Record
	pos := 0
	for {
		keyLen, n, err := ReadVarint(body[pos:])
		if err != nil {
			return nil, fmt.Errorf("read key length: %w", err)
		}
		pos += n
		valLen, n, err := ReadVarint(body[pos:])
		if err != nil {
			return nil, fmt.Errorf("read value length: %w", err)
		}
		pos += n
		if keyLen == -1 && valLen == -1 {
			if pos != len(body) {
				return nil, fmt.Errorf("sub-batch has %d trailing bytes", len(body)-pos)
			}
			return records, nil
		}
		if keyLen < 0 || valLen < 0 {
			return nil, fmt.Errorf("invalid record lengths key=%d value=%d", keyLen, valLen)
		}
		if pos+int(keyLen)+int(valLen) > len(body) {
			return nil, fmt.Errorf("record exceeds sub-batch body: key=%d value=%d at %d/%d", keyLen, valLen, pos, len(body))
		}
		key := append([]byte(nil), body[pos:pos+int(keyLen)]...)
		pos += int(keyLen)
		value := append([]byte(nil), body[pos:pos+int(valLen)]...)
		pos += int(valLen)
		records = append(records, Record{Key: key, Value: value})
	}
}
