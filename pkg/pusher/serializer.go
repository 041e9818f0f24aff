package pusher

import "io"

// Serializer writes one datum's wire form to w. Key and value codecs are
// pluggable; the pusher only sees cursor deltas.
type Serializer interface {
	Serialize(w io.Writer, v []byte) error
}

// RawSerializer writes the datum bytes unchanged.
type RawSerializer struct{}

func (RawSerializer) Serialize(w io.Writer, v []byte) error {
	_, err := w.Write(v)
	return err
}
