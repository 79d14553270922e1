package transport

import (
	"testing"
	"time"
)

func TestTCPListenerDialerRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan error, 1)
	var serverSide interface {
		Messages() <-chan []byte
	}
	go func() {
		tr, err := ln.Accept()
		if err != nil {
			acceptedCh <- err
			return
		}
		serverSide = tr
		acceptedCh <- nil
	}()

	var dialer TCPDialer
	client, err := dialer.Dial(ln.Addr().String(), 9)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	select {
	case err := <-acceptedCh:
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}

	payload := []byte{0x01, 0x02, 0x03}
	wire := make([]byte, 3+len(payload))
	wire[0] = 0x80
	wire[1], wire[2] = 0, byte(len(wire))
	copy(wire[3:], payload)

	if err := client.Send(wire); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-serverSide.Messages():
		if len(got) != len(wire) {
			t.Fatalf("got %d bytes, want %d", len(got), len(wire))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestStaticResolverRefreshesOnMiss(t *testing.T) {
	r := NewStaticResolver(9)
	if ch, _ := r.GetServiceChannel("peer", ""); ch != -1 {
		t.Fatalf("GetServiceChannel before refresh = %d, want -1", ch)
	}
	if err := r.UpdateSDPRecords("peer"); err != nil {
		t.Fatalf("UpdateSDPRecords: %v", err)
	}
	if ch, _ := r.GetServiceChannel("peer", ""); ch != 9 {
		t.Fatalf("GetServiceChannel after refresh = %d, want 9", ch)
	}
}
