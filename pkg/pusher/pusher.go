package pusher

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/FMX/RemoteShuffleService-1/pkg/protocol"
)

// ShuffleChannel is the downstream push/merge stream consumed by the pusher.
// PushData creates or replaces a partition's stream; MergeData appends to it
// within the same drain cycle. Calls block; retry is the caller's concern.
type ShuffleChannel interface {
	PushData(partition int32, data []byte) error
	MergeData(partition int32, data []byte) error
	Close() error
}

// ErrCapacityExhausted is returned by the raw append path once the buffer is
// full. The spill threshold triggers a proactive drain well before this.
var ErrCapacityExhausted = errors.New("serialization buffer exhausted")

// Config controls pusher buffering and batching.
type Config struct {
	// MaxIOBufferSize caps the raw serialization buffer.
	MaxIOBufferSize int
	// SpillThreshold triggers a sort+drain once the write cursor reaches it.
	// Must be <= MaxIOBufferSize.
	SpillThreshold int
	// MaxBatchSize bounds a single push/merge payload's key+value bytes.
	MaxBatchSize int
	// NumPartitions is the number of shuffle output partitions.
	NumPartitions int32
	// Sort re-orders each partition's records by raw key before draining.
	Sort bool
	// Comparator orders raw key bytes when Sort is set. Defaults to bytes.Compare.
	Comparator func(a, b []byte) int
	Logger     *slog.Logger
}

// serializedRecord points into the raw buffer; bytes are not copied until a
// drain batches them.
type serializedRecord struct {
	offset int
	keyLen int
	valLen int
}

// SortBasedPusher buffers serialized records per partition and pushes them
// downstream in capped sub-batches. Insert, Flush and Close belong to a single
// producing goroutine; counters and the error cell may be read concurrently.
type SortBasedPusher struct {
	cfg     Config
	channel ShuffleChannel
	keySer  Serializer
	valSer  Serializer
	logger  *slog.Logger

	buf         []byte
	writePos    int
	partitioned map[int32][]serializedRecord

	records  []atomic.Int64
	bytesOut []atomic.Int64

	firstErr atomic.Pointer[error]
}

// NewSortBasedPusher wires a pusher to its downstream channel.
func NewSortBasedPusher(cfg Config, channel ShuffleChannel, keySer, valSer Serializer) (*SortBasedPusher, error) {
	if cfg.MaxIOBufferSize <= 0 {
		return nil, fmt.Errorf("max io buffer size must be positive, got %d", cfg.MaxIOBufferSize)
	}
	if cfg.SpillThreshold <= 0 || cfg.SpillThreshold > cfg.MaxIOBufferSize {
		return nil, fmt.Errorf("spill threshold %d out of range (buffer %d)", cfg.SpillThreshold, cfg.MaxIOBufferSize)
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", cfg.MaxBatchSize)
	}
	if cfg.NumPartitions <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", cfg.NumPartitions)
	}
	if cfg.Comparator == nil {
		cfg.Comparator = bytes.Compare
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sort based pusher init",
		"max_io_buffer", cfg.MaxIOBufferSize,
		"spill_threshold", cfg.SpillThreshold,
		"max_batch_size", cfg.MaxBatchSize,
		"partitions", cfg.NumPartitions,
		"sort", cfg.Sort)
	return &SortBasedPusher{
		cfg:         cfg,
		channel:     channel,
		keySer:      keySer,
		valSer:      valSer,
		logger:      logger,
		buf:         make([]byte, cfg.MaxIOBufferSize),
		partitioned: make(map[int32][]serializedRecord),
		records:     make([]atomic.Int64, cfg.NumPartitions),
		bytesOut:    make([]atomic.Int64, cfg.NumPartitions),
	}, nil
}

// Insert serializes one key/value pair into the buffer, draining first when the
// spill threshold has been reached. Failures land in the sticky error cell;
// Insert never unwinds mid-batch.
func (p *SortBasedPusher) Insert(key, value []byte, partition int32) {
	if p.writePos >= p.cfg.SpillThreshold {
		p.logger.Debug("spill threshold reached, trigger sort and drain",
			"write_pos", p.writePos,
			"spill_threshold", p.cfg.SpillThreshold,
			"max_io_buffer", p.cfg.MaxIOBufferSize)
		if p.cfg.Sort {
			p.sortRecords()
		}
		if err := p.drain(); err != nil {
			p.recordFailure(err)
			return
		}
	}
	dataLen, err := p.insertRecord(key, value, partition)
	if err != nil {
		p.recordFailure(err)
		return
	}
	counterSlot := partition
	if p.cfg.NumPartitions == 1 && !p.cfg.Sort {
		counterSlot = 0
	}
	p.records[counterSlot].Add(1)
	p.bytesOut[counterSlot].Add(int64(dataLen))
}

func (p *SortBasedPusher) insertRecord(key, value []byte, partition int32) (int, error) {
	offset := p.writePos
	if err := p.keySer.Serialize(p, key); err != nil {
		return 0, fmt.Errorf("serialize key: %w", err)
	}
	keyLen := p.writePos - offset
	if err := p.valSer.Serialize(p, value); err != nil {
		return 0, fmt.Errorf("serialize value: %w", err)
	}
	valLen := p.writePos - offset - keyLen
	p.partitioned[partition] = append(p.partitioned[partition], serializedRecord{
		offset: offset,
		keyLen: keyLen,
		valLen: valLen,
	})
	return keyLen + valLen, nil
}

// drain pushes every buffered partition downstream and resets the cursor. The
// first sub-batch per partition in one cycle is a push, the rest are merges.
func (p *SortBasedPusher) drain() error {
	for partition, recs := range p.partitioned {
		delete(p.partitioned, partition)
		if err := p.sendPartition(partition, recs); err != nil {
			return err
		}
	}
	p.writePos = 0
	return nil
}

func (p *SortBasedPusher) sendPartition(partition int32, recs []serializedRecord) error {
	batch := make([]protocol.Record, 0, len(recs))
	total := 0
	pushed := false
	send := func() error {
		if len(batch) == 0 {
			return nil
		}
		payload := protocol.EncodeSubBatch(batch)
		var err error
		if pushed {
			err = p.channel.MergeData(partition, payload)
		} else {
			err = p.channel.PushData(partition, payload)
		}
		if err != nil {
			return fmt.Errorf("send sub-batch partition %d: %w", partition, err)
		}
		pushed = true
		batch = batch[:0]
		total = 0
		return nil
	}
	for _, rec := range recs {
		recLen := rec.keyLen + rec.valLen
		if total > 0 && total+recLen > p.cfg.MaxBatchSize {
			if err := send(); err != nil {
				return err
			}
		}
		batch = append(batch, protocol.Record{
			Key:   p.buf[rec.offset : rec.offset+rec.keyLen],
			Value: p.buf[rec.offset+rec.keyLen : rec.offset+rec.keyLen+rec.valLen],
		})
		total += recLen
	}
	return send()
}

func (p *SortBasedPusher) sortRecords() {
	for _, recs := range p.partitioned {
		sort.SliceStable(recs, func(i, j int) bool {
			a := recs[i]
			b := recs[j]
			return p.cfg.Comparator(
				p.buf[a.offset:a.offset+a.keyLen],
				p.buf[b.offset:b.offset+b.keyLen]) < 0
		})
	}
}

// Flush drains all buffered data, sorting first when enabled. Failures are
// recorded in the sticky cell, not returned.
func (p *SortBasedPusher) Flush() {
	if p.cfg.Sort {
		p.sortRecords()
	}
	if err := p.drain(); err != nil {
		p.recordFailure(err)
	}
}

// Close flushes remaining data, releases the downstream channel and clears
// internal state. A previously recorded sticky failure surfaces here if it was
// never checked.
func (p *SortBasedPusher) Close() error {
	p.Flush()
	if err := p.channel.Close(); err != nil {
		p.recordFailure(fmt.Errorf("close shuffle channel: %w", err))
	}
	p.partitioned = make(map[int32][]serializedRecord)
	p.buf = nil
	p.writePos = 0
	return p.CheckException()
}

// CheckException reports the first recorded failure. It stays sticky across
// repeated calls.
func (p *SortBasedPusher) CheckException() error {
	if errp := p.firstErr.Load(); errp != nil {
		return fmt.Errorf("write shuffle data: %w", *errp)
	}
	return nil
}

// recordFailure keeps only the first failure; later ones are dropped.
func (p *SortBasedPusher) recordFailure(err error) {
	if !p.firstErr.CompareAndSwap(nil, &err) {
		p.logger.Debug("dropping non-first failure", "error", err)
	}
}

// WriteByte is the raw append path used by serializers. It fails hard once the
// cursor reaches buffer capacity, a stricter limit than the spill threshold.
func (p *SortBasedPusher) WriteByte(b byte) error {
	if p.writePos >= len(p.buf) {
		p.logger.Warn("serialization buffer full", "write_pos", p.writePos, "capacity", len(p.buf))
		return ErrCapacityExhausted
	}
	p.buf[p.writePos] = b
	p.writePos++
	return nil
}

// Write appends a run of serialized bytes at the cursor.
func (p *SortBasedPusher) Write(data []byte) (int, error) {
	if p.writePos+len(data) > len(p.buf) {
		p.logger.Warn("serialization buffer full",
			"write_pos", p.writePos, "incoming", len(data), "capacity", len(p.buf))
		return 0, ErrCapacityExhausted
	}
	copy(p.buf[p.writePos:], data)
	p.writePos += len(data)
	return len(data), nil
}

// RecordsPerPartition snapshots the per-partition record counters.
func (p *SortBasedPusher) RecordsPerPartition() []int64 {
	out := make([]int64, p.cfg.NumPartitions)
	for i := range out {
		out[i] = p.records[i].Load()
	}
	return out
}

// BytesPerPartition snapshots the per-partition serialized byte counters.
func (p *SortBasedPusher) BytesPerPartition() []int64 {
	out := make([]int64, p.cfg.NumPartitions)
	for i := range out {
		out[i] = p.bytesOut[i].Load()
	}
	return out
}
