// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

// Queue is the per-session send queue: an append-only list of objects
// queued for a single peer, walked forward one object at a time. The
// cursor starts before the first element so the first Advance lands on
// index 0.
type Queue struct {
	peer   string
	items  []Object
	cursor int
}

// NewQueue creates a queue bound to one peer address.
func NewQueue(peer string) *Queue {
	return &Queue{peer: peer, cursor: -1}
}

// Append adds obj to the queue if peer matches the queue's bound peer.
func (q *Queue) Append(peer string, obj Object) error {
	if peer != q.peer {
		return ErrWrongPeer
	}
	q.items = append(q.items, obj)
	return nil
}

// Advance moves the cursor forward and returns the next object, or
// false once the queue is exhausted.
func (q *Queue) Advance() (Object, bool) {
	q.cursor++
	if q.cursor >= len(q.items) {
		return nil, false
	}
	return q.items[q.cursor], true
}

// Len reports how many objects remain unwalked, not counting the one the
// cursor is on.
func (q *Queue) Len() int {
	remaining := len(q.items) - (q.cursor + 1)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear empties the queue and resets the cursor.
func (q *Queue) Clear() {
	q.items = nil
	q.cursor = -1
}
