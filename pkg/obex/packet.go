// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

import "encoding/binary"

// Frame wraps payload in an OBEX packet: one opcode byte followed by a
// 2-byte big-endian total length (including this 3-byte prefix) and the
// payload itself.
func Frame(op byte, payload []byte) []byte {
	total := 3 + len(payload)
	buf := make([]byte, total)
	buf[0] = op
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	copy(buf[3:], payload)
	return buf
}

// ParsePacketHeader reads the 3-byte OBEX packet prefix and returns the
// opcode and the declared total packet length. b must contain at least
// the 3-byte prefix.
func ParsePacketHeader(b []byte) (op byte, total int, err error) {
	if len(b) < 3 {
		return 0, 0, &MalformedError{Reason: "short packet prefix", Length: len(b)}
	}
	total = int(binary.BigEndian.Uint16(b[1:3]))
	if total < 3 {
		return 0, 0, &MalformedError{Reason: "declared length shorter than prefix", Length: total}
	}
	return b[0], total, nil
}
