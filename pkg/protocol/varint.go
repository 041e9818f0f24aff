package protocol

import (
	"fmt"
	"math/bits"
)

// Variable-length signed integer codec. Values in [-112, 127] occupy a single
// byte. Anything else starts with a length marker in [-120, -113] for positive
// values or [-128, -121] for negative values (the magnitude is ones-complemented
// before encoding), followed by 1-8 big-endian magnitude bytes. Consumers of
// sub-batch payloads rely on this exact byte layout.

// AppendVarint appends the encoding of v to dst and returns the extended slice.
func AppendVarint(dst []byte, v int64) []byte {
	if v >= -112 && v <= 127 {
		return append(dst, byte(v))
	}
	marker := -112
	if v < 0 {
		v = ^v
		marker = -120
	}
	tmp := v
	for tmp != 0 {
		tmp >>= 8
		marker--
	}
	dst = append(dst, byte(marker))
	n := -(marker + 112)
	if marker < -120 {
		n = -(marker + 120)
	}
	for idx := n; idx != 0; idx-- {
		shift := uint((idx - 1) * 8)
		dst = append(dst, byte(v>>shift))
	}
	return dst
}

// VarintSize reports the encoded length of v in bytes.
func VarintSize(v int64) int {
	if v >= -112 && v <= 127 {
		return 1
	}
	if v < 0 {
		v = ^v
	}
	dataBits := 64 - bits.LeadingZeros64(uint64(v))
	return (dataBits+7)/8 + 1
}

// ReadVarint decodes one value from the front of b, returning the value and the
// number of bytes consumed.
func ReadVarint(b []byte) (int64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("varint: empty input")
	}
	first := int8(b[0])
	if first >= -112 {
		return int64(first), 1, nil
	}
	n := int(-112 - first)
	negative := false
	if first < -120 {
		n = int(-120 - first)
		negative = true
	}
	if len(b) < 1+n {
		return 0, 0, fmt.Errorf("varint: need %d magnitude bytes, have %d", n, len(b)-1)
	}
	var v int64
	for i := 0; i < n; i++ {
		v = v<<8 | int64(b[1+i])
	}
	if negative {
		v = ^v
	}
	return v, 1 + n, nil
}
