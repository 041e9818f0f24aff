package protocol

import (
	"errors"
	"fmt"
)

// MessageType tags a wire envelope payload.
type MessageType int32

const (
	TypeOpenStream MessageType = iota + 1
	TypeStreamHandler
	TypeCongestionOn
	TypeCongestionOff
)

const envelopeHeaderLen = 8

// ErrUnknownMessageType is returned when a frame carries a tag absent from the registry.
var ErrUnknownMessageType = errors.New("unknown message type")

// Message is an immutable wire envelope: a type tag plus an opaque payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Body is implemented by concrete envelope payloads.
type Body interface {
	MessageType() MessageType
}

// OpenStream asks a worker to open a chunked read stream over one partition.
type OpenStream struct {
	ShuffleKey string
	Partition  int32
	StartChunk int32
	EndChunk   int32
}

func (OpenStream) MessageType() MessageType { return TypeOpenStream }

// StreamHandler answers an OpenStream with the stream identity and chunk count.
type StreamHandler struct {
	StreamID  int64
	NumChunks int32
}

func (StreamHandler) MessageType() MessageType { return TypeStreamHandler }

// CongestionOn tells a producer to start throttling the given user.
type CongestionOn struct {
	TenantID string
	UserName string
}

func (CongestionOn) MessageType() MessageType { return TypeCongestionOn }

// CongestionOff lifts a previously signalled congestion state.
type CongestionOff struct {
	TenantID string
	UserName string
}

func (CongestionOff) MessageType() MessageType { return TypeCongestionOff }

// decoders is the closed registry mapping a tag to its payload decoder. Tags
// outside this set fail decoding; there is no fallback path.
var decoders = map[MessageType]func([]byte) (Body, error){
	TypeOpenStream:    decodeOpenStream,
	TypeStreamHandler: decodeStreamHandler,
	TypeCongestionOn:  decodeCongestionOn,
	TypeCongestionOff: decodeCongestionOff,
}

// Encode frames the message as an 8-byte header (tag, payload length) plus payload.
func (m Message) Encode() []byte {
	w := newByteWriter(envelopeHeaderLen + len(m.Payload))
	w.Int32(int32(m.Type))
	w.Int32(int32(len(m.Payload)))
	w.write(m.Payload)
	return w.Bytes()
}

// DecodeMessage reads one envelope from b. An unregistered tag fails before the
// payload length is even read.
func DecodeMessage(b []byte) (Message, error) {
	r := newByteReader(b)
	tag, err := r.Int32()
	if err != nil {
		return Message{}, fmt.Errorf("read message type: %w", err)
	}
	if _, ok := decoders[MessageType(tag)]; !ok {
		return Message{}, fmt.Errorf("decode message tag %d: %w", tag, ErrUnknownMessageType)
	}
	length, err := r.Int32()
	if err != nil {
		return Message{}, fmt.Errorf("read payload length: %w", err)
	}
	payload, err := r.Raw(int(length))
	if err != nil {
		return Message{}, fmt.Errorf("read payload: %w", err)
	}
	return Message{Type: MessageType(tag), Payload: append([]byte(nil), payload...)}, nil
}

// DecodeBody resolves the tag-specific decoder and parses the payload.
func (m Message) DecodeBody() (Body, error) {
	decode, ok := decoders[m.Type]
	if !ok {
		return nil, fmt.Errorf("decode message tag %d: %w", m.Type, ErrUnknownMessageType)
	}
	return decode(m.Payload)
}

// EncodeBody wraps a typed payload into an envelope.
func EncodeBody(body Body) Message {
	var w *byteWriter
	switch b := body.(type) {
	case OpenStream:
		w = newByteWriter(2 + len(b.ShuffleKey) + 12)
		w.String(b.ShuffleKey)
		w.Int32(b.Partition)
		w.Int32(b.StartChunk)
		w.Int32(b.EndChunk)
	case StreamHandler:
		w = newByteWriter(12)
		w.Int64(b.StreamID)
		w.Int32(b.NumChunks)
	case CongestionOn:
		w = newByteWriter(4 + len(b.TenantID) + len(b.UserName))
		w.String(b.TenantID)
		w.String(b.UserName)
	case CongestionOff:
		w = newByteWriter(4 + len(b.TenantID) + len(b.UserName))
		w.String(b.TenantID)
		w.String(b.UserName)
	default:
		w = newByteWriter(0)
	}
	return Message{Type: body.MessageType(), Payload: w.Bytes()}
}

func decodeOpenStream(payload []byte) (Body, error) {
	r := newByteReader(payload)
	key, err := r.String()
	if err != nil {
		return nil, fmt.Errorf("read shuffle key: %w", err)
	}
	partition, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}
	start, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read start chunk: %w", err)
	}
	end, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read end chunk: %w", err)
	}
	return OpenStream{ShuffleKey: key, Partition: partition, StartChunk: start, EndChunk: end}, nil
}

func decodeStreamHandler(payload []byte) (Body, error) {
	r := newByteReader(payload)
	id, err := r.Int64()
	if err != nil {
		return nil, fmt.Errorf("read stream id: %w", err)
	}
	chunks, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read chunk count: %w", err)
	}
	return StreamHandler{StreamID: id, NumChunks: chunks}, nil
}

func decodeCongestionOn(payload []byte) (Body, error) {
	tenant, user, err := decodeUserPair(payload)
	if err != nil {
		return nil, err
	}
	return CongestionOn{TenantID: tenant, UserName: user}, nil
}

func decodeCongestionOff(payload []byte) (Body, error) {
	tenant, user, err := decodeUserPair(payload)
	if err != nil {
		return nil, err
	}
	return CongestionOff{TenantID: tenant, UserName: user}, nil
}

func decodeUserPair(payload []byte) (string, string, error) {
	r := newByteReader(payload)
	tenant, err := r.String()
	if err != nil {
		return "", "", fmt.Errorf("read tenant id: %w", err)
	}
	user, err := r.String()
	if err != nil {
		return "", "", fmt.Errorf("read user name: %w", err)
	}
	return tenant, user, nil
}
