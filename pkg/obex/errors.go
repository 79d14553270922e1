// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error kinds named in spec.md §7. Transport and
// Io failures are not mapped to a sentinel: they surface as whatever error
// the collaborator (Transport, FileSink, SourceStream) returned.
var (
	// ErrWrongPeer is returned by Queue.Append when a caller targets a
	// different address than the queue is bound to; Session.SendFile
	// reports that case by returning false.
	ErrWrongPeer = errors.New("obex: does not match active peer")

	// ErrTooLarge is returned when an outbound object's declared size
	// does not fit the 4-byte OBEX Length header.
	ErrTooLarge = errors.New("obex: object exceeds 4-byte OBEX length field")

	// ErrResourceUnavailable is returned when an external collaborator
	// (mount lock, channel resolver) cannot be acquired.
	ErrResourceUnavailable = errors.New("obex: external resource unavailable")

	// ErrShutdown is returned by Manager methods called after Shutdown.
	ErrShutdown = errors.New("obex: manager has been shut down")

	// ErrNotConnected is returned by Manager methods that require an
	// active session when none exists.
	ErrNotConnected = errors.New("obex: no active session")

	// ErrAlreadyConnected is returned by Connect when a session is
	// already active.
	ErrAlreadyConnected = errors.New("obex: session already active")

	// ErrNotAwaitingConfirmation is returned by Session.ConfirmReceivingFile
	// when no confirmation is pending.
	ErrNotAwaitingConfirmation = errors.New("obex: no pending receiving-file confirmation")

	// ErrServiceChannelNotFound is returned by Manager.Connect when the
	// peer advertises no Object Push service channel, even after an SDP
	// record refresh.
	ErrServiceChannelNotFound = errors.New("obex: peer has no Object Push service channel")

	// ErrMalformed is the base sentinel behind MalformedError; use
	// errors.Is(err, ErrMalformed) to test for it.
	ErrMalformed = errors.New("obex: malformed packet")
)

// MalformedError carries detail about a packet that failed to parse:
// a truncated length, an impossible header, or a reassembly overrun.
type MalformedError struct {
	Reason string
	Length int
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("obex: malformed packet (%s, len=%d)", e.Reason, e.Length)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// ProtocolError is returned by the Client role when a reply's op byte
// does not match what the state machine expects for the request it just
// sent.
type ProtocolError struct {
	Want, Got byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("obex: unexpected reply 0x%02x, want 0x%02x", e.Got, e.Want)
}
