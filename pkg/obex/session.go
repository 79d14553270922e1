// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/open-source-firmware/go-objectpush/pkg/obex/header"
)

// Role is the side of the IrOBEX exchange a Session plays. It latches
// once, from the first packet the session dispatches or sends, and
// never changes afterward (spec.md §3, invariant 2).
type Role int

const (
	RoleUnknown Role = iota
	RoleServer
	RoleClient
)

// graceTimerDuration is how long a Client-role session waits after
// receiving the DISCONNECT reply before forcing the transport closed, in
// case the peer does not close it first (spec.md §4.4, §9).
const graceTimerDuration = 1 * time.Second

// SessionDeps bundles the collaborators a Session needs. All fields are
// required except MountLock, which may be nil; a Server-role CONNECT then
// proceeds without acquiring a mount lock.
type SessionDeps struct {
	SinkFactory FileSinkFactory
	Events      EventSink
	MountLock   MountLock
	ExtResolver MIMEExtensionResolver
}

// Session is the per-connection OBEX state machine (C4). One Session
// exists per Transport lifetime; the Manager creates a fresh Session for
// every accepted or dialed connection.
type Session struct {
	mu sync.Mutex

	transport Transport
	deps      SessionDeps

	role        Role
	connected   bool
	peerAddress string

	peerOBEXVersion byte
	peerFlags       byte
	peerMaxPacket   uint16

	reasm Reassembler

	// Server-role inbound transfer state.
	awaitingConfirmation bool
	pendingConfirmFinal  bool
	newFile              bool
	inboundPrevWasFinal  bool
	inboundFileName      string
	inboundContentType   string
	inboundDeclaredLen   uint32
	inboundSentBytes     uint64
	inboundProgressTick  uint32
	inboundBody          []byte
	inboundSink          FileSink
	abortRequested       bool
	mountToken           MountToken

	// Client-role outbound transfer state.
	lastSentOp        byte
	queue             *Queue
	sourceReader      *objectReader
	currentSource     SourceStream
	currentObjectName string
	currentObjectMIME string
	declaredLength    uint32
	sentBytes         uint64
	progressTick      uint32
	sendingFinal      bool
	stopRequested     bool

	success           bool
	completionEmitted bool
	transportClosed   bool
	graceTimer        *time.Timer

	doneOnce sync.Once
	doneCh   chan struct{}
}

// NewSession creates a fresh, roleless session bound to transport.
func NewSession(transport Transport, deps SessionDeps) *Session {
	return &Session{transport: transport, deps: deps, doneCh: make(chan struct{})}
}

// Done is closed once the session has fully torn down and the owning
// goroutine should stop pumping it.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// IsConnected reports whether CONNECT has completed successfully and no
// DISCONNECT/teardown has happened since.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// PeerAddress returns the session's peer address, if any.
func (s *Session) PeerAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerAddress
}

// ChunkChannel exposes the active outbound reader's result channel, or
// nil when no outbound read is in flight. A nil channel never fires in
// a select, which is exactly the behavior wanted when there's nothing
// to wait on.
func (s *Session) ChunkChannel() <-chan readResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceReader == nil {
		return nil
	}
	return s.sourceReader.Chunks()
}

// OnChunk delivers the outcome of an outbound read previously requested
// via the session's objectReader.
func (s *Session) OnChunk(res readResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onChunkLocked(res)
}

// Dispatch feeds one transport delivery through the reassembler and, once
// a complete packet is assembled, routes it to the active role's handler.
func (s *Session) Dispatch(delivery []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, payload, done, err := s.reasm.Feed(delivery)
	if err != nil {
		// Malformed inbound packet: reply BadRequest, keep the session
		// open (spec.md §7 Malformed recovery action).
		s.send(Frame(RspBadRequest, nil))
		return err
	}
	if !done {
		return nil
	}

	if s.role == RoleUnknown {
		if op != OpConnect {
			s.send(Frame(RspBadRequest, nil))
			return nil
		}
		s.role = RoleServer
	}

	if s.role == RoleServer {
		return s.dispatchServer(op, payload)
	}
	return s.clientHandleReply(op, payload)
}

// NotifyTransportClosed tells the session its transport has gone away.
// This is the abrupt-detach path (spec.md §7, Transport error action):
// any partially received inbound file is discarded, the mount lock is
// released, a failing transfer-complete is emitted if one hasn't been
// already, and the session tears down so the manager can return to
// listening.
func (s *Session) NotifyTransportClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transportClosed = true
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.onTransportErrorLocked()
	s.teardown()
}

func (s *Session) send(p []byte) error {
	if err := s.transport.Send(p); err != nil {
		s.onTransportErrorLocked()
		return err
	}
	return nil
}

func (s *Session) onTransportErrorLocked() {
	if s.inboundSink != nil {
		s.inboundSink.Discard()
		s.inboundSink = nil
	}
	if !s.completionEmitted {
		s.emitTransferComplete(s.role == RoleServer, false)
	}
}

func (s *Session) emitTransferComplete(received, success bool) {
	if s.completionEmitted {
		return
	}
	s.completionEmitted = true
	name, length, mime := s.inboundFileName, uint64(s.inboundDeclaredLen), s.inboundContentType
	if !received {
		name, length, mime = s.currentObjectName, uint64(s.declaredLength), s.currentObjectMIME
	}
	s.deps.Events.Emit(transferCompleteEvent(s.peerAddress, success, received, name, length, mime))
}

func (s *Session) maybeEmitProgress(received bool) {
	if received {
		tick := uint32(s.inboundSentBytes / progressBoundary)
		if tick <= s.inboundProgressTick {
			return
		}
		s.inboundProgressTick = tick
		s.deps.Events.Emit(updateProgressEvent(s.peerAddress, true, s.inboundSentBytes, uint64(s.inboundDeclaredLen)))
		return
	}
	tick := uint32(s.sentBytes / progressBoundary)
	if tick <= s.progressTick {
		return
	}
	s.progressTick = tick
	s.deps.Events.Emit(updateProgressEvent(s.peerAddress, false, s.sentBytes, uint64(s.declaredLength)))
}

// ---- Server role ----------------------------------------------------

func (s *Session) dispatchServer(op byte, payload []byte) error {
	switch op {
	case OpConnect:
		return s.serverHandleConnect(payload)
	case OpPut, OpPutFinal:
		return s.serverHandlePut(op, payload)
	case OpAbort:
		return s.serverHandleAbort()
	case OpDisconnect:
		return s.serverHandleDisconnect()
	case OpGet, OpGetFinal, OpSetPath:
		return s.send(Frame(RspBadRequest, nil))
	default:
		return s.send(Frame(RspNotImplemented, nil))
	}
}

func (s *Session) serverHandleConnect(payload []byte) error {
	if len(payload) < 4 {
		return s.send(Frame(RspBadRequest, nil))
	}
	s.peerOBEXVersion = payload[0]
	s.peerFlags = payload[1]
	s.peerMaxPacket = binary.BigEndian.Uint16(payload[2:4])
	s.peerAddress = s.transport.RemoteAddress()

	reply := make([]byte, 4)
	reply[0] = ObexVersion
	binary.BigEndian.PutUint16(reply[2:4], MaxPacketLength)
	if err := s.send(Frame(RspSuccess, reply)); err != nil {
		return err
	}

	s.connected = true
	s.awaitingConfirmation = true

	if s.deps.MountLock == nil {
		return nil
	}
	token, err := s.deps.MountLock.Acquire("sdcard")
	if err != nil {
		s.send(Frame(OpDisconnect, nil))
		s.teardown()
		return ErrResourceUnavailable
	}
	s.mountToken = token
	return nil
}

func (s *Session) resetInboundCounters() {
	s.inboundFileName = ""
	s.inboundContentType = ""
	s.inboundDeclaredLen = 0
	s.inboundSentBytes = 0
	s.inboundProgressTick = 0
	s.completionEmitted = false
}

func (s *Session) serverHandlePut(op byte, payload []byte) error {
	final := op == OpPutFinal

	if s.inboundPrevWasFinal {
		s.resetInboundCounters()
		s.newFile = true
	}

	hs, err := header.Decode(payload)
	if err != nil {
		s.inboundPrevWasFinal = final
		return s.send(Frame(RspBadRequest, nil))
	}
	if name, ok := hs.Name(); ok {
		s.inboundFileName = sanitizeFileName(name)
	}
	if typ, ok := hs.Type(); ok {
		s.inboundContentType = typ
	}
	if length, ok := hs.Length(); ok {
		s.inboundDeclaredLen = length
	}
	body, hasBody := hs.Body()
	if !hasBody {
		body, _ = hs.EndOfBody()
	}

	switch {
	case s.abortRequested:
		s.send(Frame(RspUnauthorized, nil))
		if s.inboundSink != nil {
			s.inboundSink.Discard()
			s.inboundSink = nil
		}
		s.emitTransferComplete(true, false)
		s.abortRequested = false
		s.inboundPrevWasFinal = final
		return nil

	case s.awaitingConfirmation:
		s.deps.Events.Emit(receivingFileConfirmationEvent(s.peerAddress, s.inboundFileName, uint64(s.inboundDeclaredLen), s.inboundContentType))
		// Open question #2 (preserved, not fixed): sent_bytes advances
		// here for progress-event parity even though no bytes have been
		// written to a sink yet.
		s.inboundSentBytes += uint64(len(body))
		s.inboundBody = append(s.inboundBody, body...)
		s.pendingConfirmFinal = final
		s.inboundPrevWasFinal = final
		return nil

	default:
		if s.newFile {
			s.deps.Events.Emit(transferStartEvent(s.peerAddress, true, s.inboundFileName, uint64(s.inboundDeclaredLen), s.inboundContentType))
			sink, actual, err := s.deps.SinkFactory.Create(s.inboundFileName)
			if err != nil {
				s.send(Frame(unauthorizedCode(final), nil))
				s.inboundPrevWasFinal = final
				return nil
			}
			s.inboundSink = sink
			s.inboundFileName = actual
			s.newFile = false
		}
		if err := s.inboundSink.Append(body); err != nil {
			s.send(Frame(unauthorizedCode(final), nil))
			s.inboundSink.Discard()
			s.inboundSink = nil
			s.inboundPrevWasFinal = final
			return nil
		}
		s.inboundSentBytes += uint64(len(body))
		if final {
			s.send(Frame(RspSuccess, nil))
		} else {
			s.send(Frame(RspContinue, nil))
		}
		s.maybeEmitProgress(true)
		if final {
			path, err := s.inboundSink.Finalize()
			s.inboundSink = nil
			if err == nil {
				s.emitTransferComplete(true, true)
				s.deps.Events.Emit(fileWatcherNotifyEvent(path))
			}
		}
		s.inboundPrevWasFinal = final
		return nil
	}
}

// ConfirmReceivingFile resolves a pending receiving-file-confirmation
// event: accept writes the buffered body and continues the transfer,
// decline replies Unauthorized.
func (s *Session) ConfirmReceivingFile(accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.awaitingConfirmation || s.reasm.Pending() {
		return ErrNotAwaitingConfirmation
	}
	s.awaitingConfirmation = false
	final := s.pendingConfirmFinal

	if !accept {
		err := s.send(Frame(unauthorizedCode(final), nil))
		s.emitTransferComplete(true, false)
		return err
	}

	s.deps.Events.Emit(transferStartEvent(s.peerAddress, true, s.inboundFileName, uint64(s.inboundDeclaredLen), s.inboundContentType))
	sink, actual, err := s.deps.SinkFactory.Create(s.inboundFileName)
	if err != nil {
		return s.send(Frame(unauthorizedCode(final), nil))
	}
	s.inboundFileName = actual
	if err := sink.Append(s.inboundBody); err != nil {
		sink.Discard()
		return s.send(Frame(unauthorizedCode(final), nil))
	}
	s.inboundSink = sink
	s.inboundBody = nil
	s.maybeEmitProgress(true)

	if final {
		path, err := sink.Finalize()
		s.inboundSink = nil
		if err != nil {
			return s.send(Frame(unauthorizedCode(true), nil))
		}
		if err := s.send(Frame(RspSuccess, nil)); err != nil {
			return err
		}
		s.emitTransferComplete(true, true)
		s.deps.Events.Emit(fileWatcherNotifyEvent(path))
		s.inboundPrevWasFinal = true
		return nil
	}
	s.inboundPrevWasFinal = false
	return s.send(Frame(RspContinue, nil))
}

func (s *Session) serverHandleAbort() error {
	if err := s.send(Frame(RspSuccess, nil)); err != nil {
		return err
	}
	if s.inboundSink != nil {
		s.inboundSink.Discard()
		s.inboundSink = nil
	}
	return nil
}

func (s *Session) serverHandleDisconnect() error {
	if err := s.send(Frame(RspSuccess, nil)); err != nil {
		return err
	}
	if !s.completionEmitted && s.inboundFileName != "" {
		s.emitTransferComplete(true, false)
	}
	s.teardown()
	return nil
}

// ---- Client role ------------------------------------------------------

// SendFile enqueues obj for addr. The first call on a fresh session
// latches the Client role and sends CONNECT; later calls append to the
// queue already in flight, rejecting a different peer address.
func (s *Session) SendFile(addr string, obj Object) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role == RoleUnknown {
		s.role = RoleClient
		s.peerAddress = addr
		s.queue = NewQueue(addr)
		if err := s.queue.Append(addr, obj); err != nil {
			return false
		}
		s.lastSentOp = OpConnect
		s.send(Frame(OpConnect, connectPayload()))
		s.reportQueueLength()
		return true
	}
	if s.role != RoleClient {
		return false
	}
	ok := s.queue.Append(addr, obj) == nil
	s.reportQueueLength()
	return ok
}

// reportQueueLength updates the active send queue depth gauge, if the
// configured EventSink tracks one.
func (s *Session) reportQueueLength() {
	if r, ok := s.deps.Events.(QueueLengthReporter); ok {
		n := 0
		if s.queue != nil {
			n = s.queue.Len()
		}
		r.SetQueueLength(n)
	}
}

// StopSendingFile requests that the current outbound object be aborted
// after its next reply arrives.
func (s *Session) StopSendingFile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleClient {
		return false
	}
	s.stopRequested = true
	return true
}

func connectPayload() []byte {
	b := make([]byte, 4)
	b[0] = ObexVersion
	binary.BigEndian.PutUint16(b[2:], MaxPacketLength)
	return b
}

func (s *Session) clientHandleReply(op byte, payload []byte) error {
	expected := byte(RspSuccess)
	if s.lastSentOp == OpPut {
		expected = RspContinue
	}
	if op != expected {
		if s.lastSentOp == OpPut || s.lastSentOp == OpPutFinal || s.lastSentOp == OpAbort {
			s.send(Frame(OpDisconnect, nil))
			s.lastSentOp = OpDisconnect
		}
		s.closeCurrentSource()
		s.emitTransferComplete(false, false)
		return &ProtocolError{Want: expected, Got: op}
	}

	switch s.lastSentOp {
	case OpConnect:
		if len(payload) < 4 {
			return &MalformedError{Reason: "short CONNECT reply", Length: len(payload)}
		}
		s.peerOBEXVersion = payload[0]
		s.peerFlags = payload[1]
		s.peerMaxPacket = binary.BigEndian.Uint16(payload[2:4])
		s.connected = true
		return s.advanceAndSend()

	case OpPut:
		if s.stopRequested {
			s.send(Frame(OpAbort, nil))
			s.lastSentOp = OpAbort
			return nil
		}
		if s.sendingFinal {
			return s.sendPutFinal()
		}
		s.sourceReader.RequestChunk(chunkBudget(s.peerMaxPacket))
		return nil

	case OpPutFinal:
		s.emitTransferComplete(false, true)
		s.closeCurrentSource()
		if next, ok := s.queue.Advance(); ok {
			s.completionEmitted = false
			s.reportQueueLength()
			return s.beginObject(next)
		}
		s.reportQueueLength()
		s.send(Frame(OpDisconnect, nil))
		s.lastSentOp = OpDisconnect
		return nil

	case OpAbort:
		s.send(Frame(OpDisconnect, nil))
		s.lastSentOp = OpDisconnect
		s.emitTransferComplete(false, false)
		return nil

	case OpDisconnect:
		s.teardown()
		s.armGraceTimer()
		return nil
	}
	return nil
}

func chunkBudget(peerMaxPacket uint16) int {
	const headerOverhead = 6
	max := int(peerMaxPacket) - headerOverhead
	if max < 0 {
		return 0
	}
	return max
}

func (s *Session) advanceAndSend() error {
	obj, ok := s.queue.Advance()
	s.reportQueueLength()
	if !ok {
		s.send(Frame(OpDisconnect, nil))
		s.lastSentOp = OpDisconnect
		return nil
	}
	return s.beginObject(obj)
}

func (s *Session) beginObject(obj Object) error {
	src, err := openSource(obj)
	if err != nil {
		s.send(Frame(OpDisconnect, nil))
		s.lastSentOp = OpDisconnect
		s.emitTransferComplete(false, false)
		return err
	}
	s.currentSource = src
	s.sourceReader = newObjectReader(src)
	s.sentBytes = 0
	s.progressTick = 0
	s.sendingFinal = false
	s.stopRequested = false

	declared := src.DeclaredSize()
	s.declaredLength = uint32(declared)
	s.currentObjectName = nameHint(src, s.deps.ExtResolver)
	s.currentObjectMIME = src.MIMEType()
	if s.currentObjectMIME == "" {
		s.currentObjectMIME = "application/octet-stream"
	}
	s.deps.Events.Emit(transferStartEvent(s.peerAddress, false, s.currentObjectName, declared, s.currentObjectMIME))

	hs := header.AppendLength(header.AppendName(nil, s.currentObjectName), uint32(declared))
	if err := s.send(Frame(OpPut, header.Encode(hs))); err != nil {
		return err
	}
	s.lastSentOp = OpPut
	return nil
}

func (s *Session) onChunkLocked(res readResult) error {
	if res.err != nil && !errors.Is(res.err, io.EOF) {
		s.send(Frame(OpDisconnect, nil))
		s.lastSentOp = OpDisconnect
		s.closeCurrentSource()
		s.emitTransferComplete(false, false)
		return res.err
	}

	s.sentBytes += uint64(len(res.data))
	if s.sentBytes >= uint64(s.declaredLength) {
		s.sendingFinal = true
	}
	hs := header.AppendBody(nil, res.data)
	if err := s.send(Frame(OpPut, header.Encode(hs))); err != nil {
		return err
	}
	s.lastSentOp = OpPut
	s.maybeEmitProgress(false)
	return nil
}

func (s *Session) sendPutFinal() error {
	hs := header.AppendEndOfBody(nil, nil)
	if err := s.send(Frame(OpPutFinal, header.Encode(hs))); err != nil {
		return err
	}
	s.lastSentOp = OpPutFinal
	return nil
}

func (s *Session) closeCurrentSource() {
	if s.sourceReader != nil {
		s.sourceReader.Close()
		s.sourceReader = nil
	}
	s.currentSource = nil
}

func (s *Session) armGraceTimer() {
	s.graceTimer = time.AfterFunc(graceTimerDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.transportClosed {
			s.transport.Close()
		}
		s.graceTimer = nil
	})
}

// teardown releases session resources in the order spec.md §3 gives:
// source stream, then reader worker, then inbound sink, then the
// cached peer-address string.
func (s *Session) teardown() {
	s.closeCurrentSource()
	if s.inboundSink != nil {
		s.inboundSink.Discard()
		s.inboundSink = nil
	}
	if s.mountToken != nil {
		s.mountToken.Release()
		s.mountToken = nil
	}
	if s.queue != nil {
		s.queue.Clear()
		s.reportQueueLength()
	}
	s.connected = false
	s.awaitingConfirmation = false
	s.peerAddress = ""
	s.markDone()
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.doneCh) })
}

// ForceTeardown is used by the manager for Disconnect()/Shutdown(),
// which tear a session down without a graceful DISCONNECT exchange.
func (s *Session) ForceTeardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
}
