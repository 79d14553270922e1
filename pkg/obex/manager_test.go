package obex

import (
	"testing"
	"time"
)

type fakeListener struct {
	ch     chan Transport
	closed bool
}

func newFakeListener() *fakeListener { return &fakeListener{ch: make(chan Transport, 4)} }

func (l *fakeListener) Accept() (Transport, error) {
	t, ok := <-l.ch
	if !ok {
		return nil, ErrShutdown
	}
	return t, nil
}
func (l *fakeListener) Close() error {
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	return nil
}

type fakeResolver struct{ channel int }

func (f fakeResolver) GetServiceChannel(string, string) (int, error) { return f.channel, nil }
func (f fakeResolver) UpdateSDPRecords(string) error                 { return nil }

type fakeDialer struct{ t Transport }

func (f fakeDialer) Dial(addr string, channel int) (Transport, error) { return f.t, nil }

func TestManagerSendFileStartsClientSession(t *testing.T) {
	dir := t.TempDir()
	tr := newFakeTransport("peer-addr")
	m := NewManager(ManagerDeps{
		SinkFactory: NewOSFileSinkFactory(dir),
		Resolver:    fakeResolver{channel: 9},
		Dialer:      fakeDialer{t: tr},
	})

	ok := m.SendFile("peer-addr", oneShotObject{data: []byte("x"), name: "x.bin"})
	if !ok {
		t.Fatal("SendFile returned false")
	}

	// Give the session goroutine a moment to send the CONNECT request.
	deadline := time.Now().Add(time.Second)
	for len(tr.sent) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(tr.sent) == 0 || tr.sent[0][0] != OpConnect {
		t.Fatalf("sent = %v, want a CONNECT request", tr.sent)
	}
}

func TestManagerConnectRejectsWhenAlreadyConnected(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(ManagerDeps{
		SinkFactory: NewOSFileSinkFactory(dir),
		Resolver:    fakeResolver{channel: 9},
		Dialer:      fakeDialer{t: newFakeTransport("a")},
	})
	if err := m.Connect("a"); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := m.Connect("b"); err != ErrAlreadyConnected {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestManagerShutdownRejectsNewWork(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(ManagerDeps{
		SinkFactory: NewOSFileSinkFactory(dir),
		Resolver:    fakeResolver{channel: 9},
		Dialer:      fakeDialer{t: newFakeTransport("a")},
	})
	m.Shutdown()
	if m.SendFile("a", oneShotObject{data: []byte("x"), name: "x.bin"}) {
		t.Fatal("SendFile succeeded after Shutdown")
	}
}

func TestManagerRelistensAfterClientSessionEnds(t *testing.T) {
	dir := t.TempDir()
	initialRfcomm := newFakeListener()
	initialL2cap := newFakeListener()

	var built []*fakeListener
	m := NewManager(ManagerDeps{
		SinkFactory: NewOSFileSinkFactory(dir),
		Resolver:    fakeResolver{channel: 9},
		Dialer:      fakeDialer{t: newFakeTransport("a")},
		ListenerFactory: func() (Listener, Listener, error) {
			r, l := newFakeListener(), newFakeListener()
			built = append(built, r, l)
			return r, l, nil
		},
	})
	m.Init(initialRfcomm, initialL2cap)

	if err := m.Connect("a"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Connect tears the existing listener pair down to free the channel
	// for dialing out.
	if !initialRfcomm.closed || !initialL2cap.closed {
		t.Fatal("expected initial listeners closed while dialing out")
	}

	// Wait for the dialed session's goroutine to register itself before
	// asking the Manager to disconnect it.
	deadlineSession := time.Now().Add(time.Second)
	for time.Now().Before(deadlineSession) {
		m.mu.Lock()
		ready := m.session != nil
		m.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(built) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(built) < 2 {
		t.Fatal("expected ListenerFactory to be called to relisten after Disconnect")
	}

	// The freshly built listener pair should now be live and able to
	// accept and fully connect a new inbound session.
	newTr := newFakeTransport("peer2")
	built[0].ch <- newTr
	newTr.msgCh <- connectPacket()

	deadline = time.Now().Add(time.Second)
	for !m.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !m.IsConnected() {
		t.Fatal("expected manager to accept and connect a new inbound session after relisten")
	}
}

func TestManagerIsConnectedReflectsSession(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(ManagerDeps{
		SinkFactory: NewOSFileSinkFactory(dir),
		Resolver:    fakeResolver{channel: 9},
		Dialer:      fakeDialer{t: newFakeTransport("a")},
	})
	if m.IsConnected() {
		t.Fatal("IsConnected true before any session")
	}
	m.Connect("a")
	if addr, ok := m.GetAddress(); !ok || addr != "a" {
		t.Fatalf("GetAddress = %q, %v", addr, ok)
	}
}
