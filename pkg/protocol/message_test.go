package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x00}
	msg := Message{Type: TypeStreamHandler, Payload: payload}
	encoded := msg.Encode()
	if len(encoded) != 8+len(payload) {
		t.Fatalf("expected %d bytes, got %d", 8+len(payload), len(encoded))
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Type != TypeStreamHandler {
		t.Fatalf("type mismatch: %d", decoded.Type)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Fatalf("payload mismatch: %x", decoded.Payload)
	}
}

func TestMessageEmptyPayload(t *testing.T) {
	msg := Message{Type: TypeCongestionOn}
	decoded, err := DecodeMessage(msg.Encode())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(decoded.Payload))
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	frame := make([]byte, 8)
	binary.BigEndian.PutUint32(frame[0:4], 9999)
	if _, err := DecodeMessage(frame); !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("expected ErrUnknownMessageType, got %v", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	msg := Message{Type: TypeOpenStream, Payload: []byte("abcdef")}
	encoded := msg.Encode()
	if _, err := DecodeMessage(encoded[:len(encoded)-2]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestBodyRoundTrip(t *testing.T) {
	bodies := []Body{
		OpenStream{ShuffleKey: "app-1-0", Partition: 7, StartChunk: 0, EndChunk: 12},
		StreamHandler{StreamID: 42, NumChunks: 13},
		CongestionOn{TenantID: "tenant-a", UserName: "alice"},
		CongestionOff{TenantID: "tenant-a", UserName: "alice"},
	}
	for _, body := range bodies {
		msg := EncodeBody(body)
		decoded, err := DecodeMessage(msg.Encode())
		if err != nil {
			t.Fatalf("DecodeMessage(%T): %v", body, err)
		}
		got, err := decoded.DecodeBody()
		if err != nil {
			t.Fatalf("DecodeBody(%T): %v", body, err)
		}
		switch want := body.(type) {
		case OpenStream:
			if got.(OpenStream) != want {
				t.Fatalf("OpenStream mismatch: %#v", got)
			}
		case StreamHandler:
			if got.(StreamHandler) != want {
				t.Fatalf("StreamHandler mismatch: %#v", got)
			}
		case CongestionOn:
			if got.(CongestionOn) != want {
				t.Fatalf("CongestionOn mismatch: %#v", got)
			}
		case CongestionOff:
			if got.(CongestionOff) != want {
				t.Fatalf("CongestionOff mismatch: %#v", got)
			}
		}
	}
}
