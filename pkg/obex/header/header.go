// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package header encodes and decodes IrOBEX header sets: the
// Name/Type/Length/Body/EndOfBody headers an Object Push session reads
// and writes. Header identifier bytes carry their own encoding in the
// top two bits, so the codec needs no external schema.
package header

import (
	"encoding/binary"
	"errors"
	"strings"
	"unicode/utf16"
)

// ErrTruncated is returned when a header set ends mid-header.
var ErrTruncated = errors.New("header: truncated header")

// ID is an OBEX header identifier byte. Its top two bits select the
// header's value encoding: 00 and 01 are length-prefixed (unicode text,
// byte sequence), 10 is a single byte, 11 is a 4-byte big-endian integer.
type ID byte

const (
	Name      ID = 0x01
	Type      ID = 0x42
	Length    ID = 0xC3
	Body      ID = 0x48
	EndOfBody ID = 0x49
)

const (
	kindText   = 0x00
	kindBytes  = 0x40
	kind1Byte  = 0x80
	kind4Byte  = 0xC0
	kindMask   = 0xC0
)

// Header is one decoded header: an identifier plus its raw value bytes
// (not including the identifier/length prefix on the wire).
type Header struct {
	ID  ID
	Raw []byte
}

// HeaderSet is an ordered, append-only list of headers, encoded and
// decoded together as one contiguous byte run.
type HeaderSet []Header

func (hs HeaderSet) find(id ID) (Header, bool) {
	for _, h := range hs {
		if h.ID == id {
			return h, true
		}
	}
	return Header{}, false
}

// Name returns the decoded Name header, if present.
func (hs HeaderSet) Name() (string, bool) {
	h, ok := hs.find(Name)
	if !ok {
		return "", false
	}
	return decodeText(h.Raw), true
}

// Type returns the decoded Type header, if present.
func (hs HeaderSet) Type() (string, bool) {
	h, ok := hs.find(Type)
	if !ok {
		return "", false
	}
	return strings.TrimRight(string(h.Raw), "\x00"), true
}

// Length returns the decoded Length header, if present.
func (hs HeaderSet) Length() (uint32, bool) {
	h, ok := hs.find(Length)
	if !ok || len(h.Raw) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(h.Raw), true
}

// Body returns the raw Body header value, if present.
func (hs HeaderSet) Body() ([]byte, bool) {
	h, ok := hs.find(Body)
	return h.Raw, ok
}

// EndOfBody returns the raw EndOfBody header value, if present.
func (hs HeaderSet) EndOfBody() ([]byte, bool) {
	h, ok := hs.find(EndOfBody)
	return h.Raw, ok
}

// AppendName appends a Name header, UTF-16BE encoded and null-terminated.
func AppendName(hs HeaderSet, name string) HeaderSet {
	return append(hs, Header{ID: Name, Raw: encodeText(name)})
}

// AppendType appends a Type header, ASCII null-terminated.
func AppendType(hs HeaderSet, typ string) HeaderSet {
	return append(hs, Header{ID: Type, Raw: append([]byte(typ), 0)})
}

// AppendLength appends a Length header.
func AppendLength(hs HeaderSet, n uint32) HeaderSet {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return append(hs, Header{ID: Length, Raw: b[:]})
}

// AppendBody appends a Body header.
func AppendBody(hs HeaderSet, b []byte) HeaderSet {
	return append(hs, Header{ID: Body, Raw: b})
}

// AppendEndOfBody appends an EndOfBody header.
func AppendEndOfBody(hs HeaderSet, b []byte) HeaderSet {
	return append(hs, Header{ID: EndOfBody, Raw: b})
}

// Encode serializes a header set to wire bytes.
func Encode(hs HeaderSet) []byte {
	var out []byte
	for _, h := range hs {
		switch byte(h.ID) & kindMask {
		case kindText, kindBytes:
			total := 3 + len(h.Raw)
			var lb [2]byte
			binary.BigEndian.PutUint16(lb[:], uint16(total))
			out = append(out, byte(h.ID))
			out = append(out, lb[:]...)
			out = append(out, h.Raw...)
		case kind1Byte:
			out = append(out, byte(h.ID))
			if len(h.Raw) > 0 {
				out = append(out, h.Raw[0])
			} else {
				out = append(out, 0)
			}
		default: // kind4Byte
			out = append(out, byte(h.ID))
			v := h.Raw
			if len(v) != 4 {
				v = make([]byte, 4)
			}
			out = append(out, v...)
		}
	}
	return out
}

// Decode parses a contiguous run of headers. Headers with identifiers
// this package doesn't interpret are kept in the set as raw bytes, and
// their length is honored, so the cursor never desyncs on them.
func Decode(b []byte) (HeaderSet, error) {
	var hs HeaderSet
	i := 0
	for i < len(b) {
		id := ID(b[i])
		switch byte(id) & kindMask {
		case kindText, kindBytes:
			if i+3 > len(b) {
				return nil, ErrTruncated
			}
			total := int(binary.BigEndian.Uint16(b[i+1 : i+3]))
			if total < 3 || i+total > len(b) {
				return nil, ErrTruncated
			}
			var raw []byte
			if total > 3 {
				raw = make([]byte, total-3)
				copy(raw, b[i+3:i+total])
			}
			hs = append(hs, Header{ID: id, Raw: raw})
			i += total
		case kind1Byte:
			if i+2 > len(b) {
				return nil, ErrTruncated
			}
			hs = append(hs, Header{ID: id, Raw: []byte{b[i+1]}})
			i += 2
		default: // kind4Byte
			if i+5 > len(b) {
				return nil, ErrTruncated
			}
			raw := make([]byte, 4)
			copy(raw, b[i+1:i+5])
			hs = append(hs, Header{ID: id, Raw: raw})
			i += 5
		}
	}
	return hs, nil
}

func encodeText(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, (len(units)+1)*2)
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return append(out, 0, 0)
}

func decodeText(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	for len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units))
}
