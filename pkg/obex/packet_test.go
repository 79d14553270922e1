package obex

import (
	"bytes"
	"testing"
)

func TestFrameParsePacketHeaderRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	wire := Frame(OpPutFinal, payload)

	op, total, err := ParsePacketHeader(wire)
	if err != nil {
		t.Fatalf("ParsePacketHeader: %v", err)
	}
	if op != OpPutFinal {
		t.Fatalf("op = 0x%02x, want 0x%02x", op, OpPutFinal)
	}
	if total != len(wire) {
		t.Fatalf("total = %d, want %d", total, len(wire))
	}
	if !bytes.Equal(wire[3:], payload) {
		t.Fatalf("payload = %x, want %x", wire[3:], payload)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	wire := Frame(OpAbort, nil)
	if len(wire) != 3 {
		t.Fatalf("len(wire) = %d, want 3", len(wire))
	}
	op, total, err := ParsePacketHeader(wire)
	if err != nil || op != OpAbort || total != 3 {
		t.Fatalf("got (0x%02x, %d, %v), want (0x%02x, 3, nil)", op, total, err, OpAbort)
	}
}

func TestParsePacketHeaderShort(t *testing.T) {
	if _, _, err := ParsePacketHeader([]byte{0x82, 0x00}); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestParsePacketHeaderImpossibleLength(t *testing.T) {
	if _, _, err := ParsePacketHeader([]byte{0x82, 0x00, 0x02}); err == nil {
		t.Fatal("expected error for declared length below prefix size")
	}
}
