// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"sync"

	"github.com/open-source-firmware/go-objectpush/pkg/obex"
)

var _ obex.ChannelResolver = (*StaticResolver)(nil)

// StaticResolver is a development/test stand-in for a Bluetooth SDP
// channel cache: it reports no channel (-1) for a peer until
// UpdateSDPRecords has been called for it, and a fixed channel after
// that. A real implementation would query the platform's SDP client and
// cache results per address.
type StaticResolver struct {
	mu      sync.Mutex
	channel int
	known   map[string]bool
}

// NewStaticResolver returns a resolver that reports channel for any peer
// address once UpdateSDPRecords has been called for it.
func NewStaticResolver(channel int) *StaticResolver {
	return &StaticResolver{channel: channel, known: make(map[string]bool)}
}

// GetServiceChannel returns the configured channel for a peer already
// refreshed via UpdateSDPRecords, and -1 otherwise. serviceUUID is
// accepted for interface compatibility but unused, since this stand-in
// never actually distinguishes services.
func (r *StaticResolver) GetServiceChannel(addr, serviceUUID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known[addr] {
		return -1, nil
	}
	return r.channel, nil
}

// UpdateSDPRecords marks addr as resolvable from here on, simulating a
// successful SDP record refresh.
func (r *StaticResolver) UpdateSDPRecords(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[addr] = true
	return nil
}
