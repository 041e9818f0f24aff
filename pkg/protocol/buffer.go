package protocol

import (
	"encoding/binary"
	"fmt"
)

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(b []byte) *byteReader {
	return &byteReader{data: b}
}

func (r *byteReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *byteReader) Int32() (int32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("need 4 bytes, have %d", r.remaining())
	}
	v := int32(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *byteReader) Int64() (int64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("need 8 bytes, have %d", r.remaining())
	}
	v := int64(binary.BigEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v, nil
}

// String reads an int16-length-prefixed string.
func (r *byteReader) String() (string, error) {
	if r.remaining() < 2 {
		return "", fmt.Errorf("need 2 bytes, have %d", r.remaining())
	}
	n := int(int16(binary.BigEndian.Uint16(r.data[r.pos:])))
	r.pos += 2
	if n < 0 || r.remaining() < n {
		return "", fmt.Errorf("string length %d exceeds remaining %d", n, r.remaining())
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *byteReader) Raw(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("raw length %d exceeds remaining %d", n, r.remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

type byteWriter struct {
	buf []byte
}

func newByteWriter(capacity int) *byteWriter {
	return &byteWriter{buf: make([]byte, 0, capacity)}
}

func (w *byteWriter) Int32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *byteWriter) Int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *byteWriter) String(s string) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) write(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) Bytes() []byte {
	return w.buf
}
