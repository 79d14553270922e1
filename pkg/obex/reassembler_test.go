package obex

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestReassemblerSinglePacket(t *testing.T) {
	var r Reassembler
	wire := Frame(OpConnect, []byte{0x10, 0x00, 0x10, 0x00})
	op, payload, done, err := r.Feed(wire)
	if err != nil || !done {
		t.Fatalf("Feed = (_, _, %v, %v), want done=true", done, err)
	}
	if op != OpConnect {
		t.Fatalf("op = 0x%02x, want 0x%02x", op, OpConnect)
	}
	if !bytes.Equal(payload, []byte{0x10, 0x00, 0x10, 0x00}) {
		t.Fatalf("payload = %x", payload)
	}
	if r.Pending() {
		t.Fatal("Pending() true after a complete packet")
	}
}

func TestReassemblerArbitrarySplits(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 300)
	wire := Frame(OpPutFinal, payload)

	for trial := 0; trial < 20; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		var r Reassembler
		var gotOp byte
		var gotPayload []byte
		i := 0
		for i < len(wire) {
			n := 1 + rng.Intn(len(wire)-i)
			op, p, done, err := r.Feed(wire[i : i+n])
			if err != nil {
				t.Fatalf("trial %d: Feed: %v", trial, err)
			}
			i += n
			if done {
				gotOp, gotPayload = op, p
			}
		}
		if gotOp != OpPutFinal || !bytes.Equal(gotPayload, payload) {
			t.Fatalf("trial %d: got (0x%02x, %x), want (0x%02x, %x)", trial, gotOp, gotPayload, OpPutFinal, payload)
		}
	}
}

func TestReassemblerNewPacketAfterComplete(t *testing.T) {
	var r Reassembler
	first := Frame(OpPut, []byte{0x01})
	second := Frame(OpPutFinal, []byte{0x02})

	if _, _, done, err := r.Feed(first); err != nil || !done {
		t.Fatalf("first Feed: done=%v err=%v", done, err)
	}
	op, payload, done, err := r.Feed(second)
	if err != nil || !done || op != OpPutFinal || !bytes.Equal(payload, []byte{0x02}) {
		t.Fatalf("second Feed = (0x%02x, %x, %v, %v)", op, payload, done, err)
	}
}

func TestReassemblerOverrun(t *testing.T) {
	var r Reassembler
	wire := Frame(OpPut, []byte{0x01, 0x02})
	// Deliver the 3-byte prefix and the first payload byte, then feed more
	// bytes than the declared length allows.
	if _, _, _, err := r.Feed(wire[:4]); err != nil {
		t.Fatalf("partial Feed: %v", err)
	}
	if _, _, _, err := r.Feed([]byte{0x00, 0x00, 0x00}); err == nil {
		t.Fatal("expected malformed error on overrun")
	}
}

func TestReassemblerEmptyPayload(t *testing.T) {
	var r Reassembler
	wire := Frame(OpAbort, nil)
	op, payload, done, err := r.Feed(wire)
	if err != nil || !done || op != OpAbort || len(payload) != 0 {
		t.Fatalf("Feed(empty) = (0x%02x, %x, %v, %v)", op, payload, done, err)
	}
}
