// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net"

	"github.com/open-source-firmware/go-objectpush/pkg/obex"
)

var (
	_ obex.Listener = (*TCPListener)(nil)
	_ obex.Dialer   = TCPDialer{}
)

// TCPListener satisfies obex.Listener over a TCP socket, standing in for
// an RFCOMM or L2CAP server socket in environments with no Bluetooth
// adapter available.
type TCPListener struct {
	ln net.Listener
}

// Listen opens a TCP listener on addr (e.g. "localhost:0").
func Listen(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks for the next inbound connection.
func (l *TCPListener) Accept() (obex.Transport, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return NewConn(nc), nil
}

// Close stops accepting new connections.
func (l *TCPListener) Close() error { return l.ln.Close() }

// Addr returns the listener's bound address, useful for tests that bind
// to port 0.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// TCPDialer satisfies obex.Dialer over TCP.
type TCPDialer struct{}

// Dial connects to addr. channel is ignored; a real RFCOMM/L2CAP dialer
// would use it to select the service channel resolved via SDP.
func (TCPDialer) Dial(addr string, channel int) (obex.Transport, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}
