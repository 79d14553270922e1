// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport provides the concrete collaborators pkg/obex
// consumes through its Transport, Listener, Dialer, and ChannelResolver
// interfaces. Real RFCOMM/L2CAP socket establishment is outside this
// module's scope; this package instead provides a TCP-backed stand-in
// suitable for development and tests, structured the way the teacher
// splits its device transport (pkg/drive) from the engine that consumes
// it (pkg/core) into small composable pieces.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/open-source-firmware/go-objectpush/pkg/obex"
)

var _ obex.Transport = (*Conn)(nil)

// Conn wraps a net.Conn and satisfies obex.Transport: it frames reads
// off the wire as OBEX packet deliveries and exposes a Messages channel,
// mirroring pascaldekloe-websocket's Conn embedding net.Conn directly.
type Conn struct {
	nc net.Conn

	msgCh   chan []byte
	closeCh chan struct{}
	once    sync.Once
}

// NewConn wraps an established net.Conn and starts its read pump.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{nc: nc, msgCh: make(chan []byte, 16), closeCh: make(chan struct{})}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	r := bufio.NewReaderSize(c.nc, 8192)
	prefix := make([]byte, 3)
	for {
		if _, err := readFull(r, prefix); err != nil {
			c.closeOnce()
			return
		}
		total := int(binary.BigEndian.Uint16(prefix[1:3]))
		if total < 3 {
			c.closeOnce()
			return
		}
		pkt := make([]byte, total)
		copy(pkt, prefix)
		if _, err := readFull(r, pkt[3:]); err != nil {
			c.closeOnce()
			return
		}
		select {
		case c.msgCh <- pkt:
		case <-c.closeCh:
			return
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Send writes one complete OBEX packet.
func (c *Conn) Send(p []byte) error {
	_, err := c.nc.Write(p)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Messages delivers fully-framed inbound packets.
func (c *Conn) Messages() <-chan []byte { return c.msgCh }

// Closed is closed once the connection is no longer usable.
func (c *Conn) Closed() <-chan struct{} { return c.closeCh }

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.closeOnce()
	return c.nc.Close()
}

func (c *Conn) closeOnce() {
	c.once.Do(func() { close(c.closeCh) })
}

// RemoteAddress returns the peer's address string.
func (c *Conn) RemoteAddress() string { return c.nc.RemoteAddr().String() }
