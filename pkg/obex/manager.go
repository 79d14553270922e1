// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

import "sync"

// ManagerDeps bundles the collaborators every Session the Manager creates
// will share.
type ManagerDeps struct {
	SinkFactory FileSinkFactory
	Events      EventSink
	MountLock   MountLock
	ExtResolver MIMEExtensionResolver
	Resolver    ChannelResolver
	Dialer      Dialer

	// ListenerFactory rebuilds the RFCOMM/L2CAP listener pair. Connect
	// tears the existing pair down to free the channel for dialing out;
	// ListenerFactory is how the Manager gets back to listening once
	// that outbound session ends (spec.md §4.8). May be nil if the host
	// application never dials out.
	ListenerFactory func() (rfcomm, l2cap Listener, err error)
}

// Manager is the one process-wide handle on the Object Push engine (C8):
// it owns the listen/accept loop, the single active session, and the
// public control API the host application drives.
type Manager struct {
	mu          sync.Mutex
	deps        ManagerDeps
	rfcomm      Listener
	l2cap       Listener
	session     *Session
	shutdown    bool
	relistening bool
}

// NewManager constructs a Manager. Init must be called once before
// Listen-side accept begins.
func NewManager(deps ManagerDeps) *Manager {
	if deps.ExtResolver == nil {
		deps.ExtResolver = DefaultMIMEExtensionResolver
	}
	if deps.Events == nil {
		deps.Events = NoopEventSink
	}
	return &Manager{deps: deps}
}

// Init registers the RFCOMM and L2CAP listeners and starts accepting.
func (m *Manager) Init(rfcomm, l2cap Listener) {
	m.mu.Lock()
	m.rfcomm, m.l2cap = rfcomm, l2cap
	m.mu.Unlock()
	go m.acceptLoop()
}

func (m *Manager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// acceptLoop owns exactly one goroutine per live listener pair: it runs
// until either Close()s out from under it (Connect tearing the pair down
// to dial out, or Shutdown) or the Manager shuts down. The listener pair
// it uses is captured once at the top, since m.rfcomm/m.l2cap may be
// replaced or nilled out by a concurrent teardownListeners/relisten.
func (m *Manager) acceptLoop() {
	m.mu.Lock()
	rfcomm, l2cap := m.rfcomm, m.l2cap
	m.mu.Unlock()
	if rfcomm == nil || l2cap == nil {
		return
	}

	for !m.isShutdown() {
		t, err := acceptEither(rfcomm, l2cap)
		if err != nil {
			// Listener(s) closed out from under us; stop rather than
			// spin. relisten (called from runSession's teardown path)
			// starts a fresh acceptLoop once new listeners exist.
			return
		}
		m.mu.Lock()
		busy := m.session != nil
		m.mu.Unlock()
		if busy {
			t.Close()
			continue
		}
		// Run the server session on its own goroutine so this loop can
		// keep accepting (and rejecting, via the busy check above)
		// rather than blocking for the session's whole lifetime -
		// blocking here was what forced runSession to spawn a second
		// acceptLoop on exit, doubling the live loop count every cycle.
		go m.runSession(t, m.startSession(t, RoleServer, ""))
	}
}

// acceptEither blocks until either the RFCOMM or the L2CAP listener
// produces a connection. Object Push accepts on both transports but
// serves exactly one peer at a time.
func acceptEither(rfcomm, l2cap Listener) (Transport, error) {
	type result struct {
		t   Transport
		err error
	}
	ch := make(chan result, 2)
	go func() { t, err := rfcomm.Accept(); ch <- result{t, err} }()
	go func() { t, err := l2cap.Accept(); ch <- result{t, err} }()
	r := <-ch
	return r.t, r.err
}

func (m *Manager) sessionDeps() SessionDeps {
	return SessionDeps{
		SinkFactory: m.deps.SinkFactory,
		Events:      m.deps.Events,
		MountLock:   m.deps.MountLock,
		ExtResolver: m.deps.ExtResolver,
	}
}

// startSession creates a Session for t and registers it as the active
// session. A Client-role session starts out with addr as its peer address.
func (m *Manager) startSession(t Transport, role Role, addr string) *Session {
	s := NewSession(t, m.sessionDeps())
	if role == RoleClient {
		s.peerAddress = addr
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	return s
}

func (m *Manager) runSession(t Transport, s *Session) {
	for {
		select {
		case msg, ok := <-t.Messages():
			if !ok {
				goto done
			}
			s.Dispatch(msg)
		case res, ok := <-s.ChunkChannel():
			if ok {
				s.OnChunk(res)
			}
		case <-t.Closed():
			s.NotifyTransportClosed()
			goto done
		case <-s.Done():
			goto done
		}
	}
done:
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	m.relisten()
}

// relisten returns the Manager to listening after a session ends. For a
// Server-role session the listener pair was never torn down, so the
// original acceptLoop goroutine is still running and this is a no-op.
// For a Client-role session, Connect closed the listener pair to free
// the channel for dialing; relisten rebuilds it via ListenerFactory and
// starts a fresh acceptLoop (spec.md §4.8, "disconnect returns to
// listen()"). Both Disconnect and the ended session's own runSession
// goroutine call this on the same teardown, so relistening is guarded
// against running twice concurrently and racing two listener pairs into
// existence.
func (m *Manager) relisten() {
	m.mu.Lock()
	if m.shutdown || m.relistening || (m.rfcomm != nil && m.l2cap != nil) {
		m.mu.Unlock()
		return
	}
	m.relistening = true
	m.mu.Unlock()

	if m.deps.ListenerFactory == nil {
		m.mu.Lock()
		m.relistening = false
		m.mu.Unlock()
		return
	}
	rfcomm, l2cap, err := m.deps.ListenerFactory()

	m.mu.Lock()
	m.relistening = false
	if err == nil {
		m.rfcomm, m.l2cap = rfcomm, l2cap
	}
	m.mu.Unlock()
	if err == nil {
		go m.acceptLoop()
	}
}

func (m *Manager) dial(addr string) (Transport, error) {
	channel, err := m.deps.Resolver.GetServiceChannel(addr, OPPServiceUUID)
	if err != nil || channel < 0 {
		if uerr := m.deps.Resolver.UpdateSDPRecords(addr); uerr != nil {
			return nil, ErrResourceUnavailable
		}
		channel, err = m.deps.Resolver.GetServiceChannel(addr, OPPServiceUUID)
		if err != nil || channel < 0 {
			return nil, ErrServiceChannelNotFound
		}
	}
	return m.deps.Dialer.Dial(addr, channel)
}

// Connect dials addr and starts a Client-role session with no object
// queued yet.
func (m *Manager) Connect(addr string) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.session != nil {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.mu.Unlock()

	m.teardownListeners()
	t, err := m.dial(addr)
	if err != nil {
		m.relisten()
		return err
	}
	// startSession is evaluated before the goroutine starts, so the new
	// session is registered by the time Connect returns.
	go m.runSession(t, m.startSession(t, RoleClient, addr))
	return nil
}

// SendFile queues obj for delivery to addr, dialing a new Client session
// if none is active, or appending to the one already in flight.
func (m *Manager) SendFile(addr string, obj Object) bool {
	m.mu.Lock()
	s := m.session
	shutdown := m.shutdown
	m.mu.Unlock()
	if shutdown {
		return false
	}
	if s != nil {
		return s.SendFile(addr, obj)
	}
	if err := m.Connect(addr); err != nil {
		return false
	}
	m.mu.Lock()
	s = m.session
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return s.SendFile(addr, obj)
}

// StopSendingFile requests cancellation of the outbound object currently
// in flight, if any.
func (m *Manager) StopSendingFile() bool {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return s.StopSendingFile()
}

// ConfirmReceivingFile resolves the active session's pending
// receiving-file-confirmation, if any.
func (m *Manager) ConfirmReceivingFile(accept bool) bool {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return s.ConfirmReceivingFile(accept) == nil
}

// Disconnect forcibly tears down the active session and returns to
// listening.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	s.ForceTeardown()
	m.relisten()
	return nil
}

// Shutdown tears down the active session and stops accepting new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	s := m.session
	m.session = nil
	m.mu.Unlock()
	m.teardownListeners()
	if s != nil {
		s.ForceTeardown()
	}
}

func (m *Manager) teardownListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rfcomm != nil {
		m.rfcomm.Close()
		m.rfcomm = nil
	}
	if m.l2cap != nil {
		m.l2cap.Close()
		m.l2cap = nil
	}
}

// IsConnected reports whether a session is currently connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	return s != nil && s.IsConnected()
}

// GetAddress returns the active session's peer address, if any.
func (m *Manager) GetAddress() (string, bool) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return "", false
	}
	addr := s.PeerAddress()
	return addr, addr != ""
}
