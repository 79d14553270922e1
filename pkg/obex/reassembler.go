// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

// Reassembler accumulates transport deliveries into complete OBEX
// packets. A delivery may split a packet arbitrarily across reads; the
// reassembler must produce the same result regardless of where those
// splits fall (spec.md §8, reassembly equivalence).
type Reassembler struct {
	op        byte
	buf       []byte
	remaining int
	prefix    []byte // start of a 3-byte packet prefix split across deliveries
}

// Pending reports whether a packet is partially buffered.
func (r *Reassembler) Pending() bool { return r.remaining != 0 || len(r.prefix) != 0 }

// Feed processes one transport delivery. When done is true, op and
// payload hold a complete packet (payload excludes the 3-byte prefix)
// and the reassembler is ready for the next packet.
func (r *Reassembler) Feed(delivery []byte) (op byte, payload []byte, done bool, err error) {
	if r.remaining == 0 {
		if len(r.prefix)+len(delivery) < 3 {
			r.prefix = append(r.prefix, delivery...)
			return 0, nil, false, nil
		}
		if len(r.prefix) > 0 {
			delivery = append(r.prefix, delivery...)
			r.prefix = nil
		}
		op, total, err := ParsePacketHeader(delivery)
		if err != nil {
			return 0, nil, false, err
		}
		r.op = op
		r.buf = make([]byte, total-3)
		copy(r.buf, delivery[3:])
		r.remaining = len(r.buf) - (len(delivery) - 3)
		if r.remaining < 0 {
			r.buf, r.remaining = nil, 0
			return 0, nil, false, &MalformedError{Reason: "delivery overruns declared packet length", Length: len(delivery)}
		}
	} else {
		if len(delivery) > r.remaining {
			r.buf, r.remaining = nil, 0
			return 0, nil, false, &MalformedError{Reason: "continuation overruns declared packet length", Length: len(delivery)}
		}
		copy(r.buf[len(r.buf)-r.remaining:], delivery)
		r.remaining -= len(delivery)
	}

	if r.remaining == 0 {
		op, payload = r.op, r.buf
		r.buf, r.op = nil, 0
		return op, payload, true, nil
	}
	return 0, nil, false, nil
}
