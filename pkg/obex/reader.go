// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

import (
	"math"
	"mime"
	"strings"
)

// Object is an outbound object handle queued with SendFile, not yet
// opened. Open is called once, when the session's send queue advances
// to this object.
type Object interface {
	Open() (SourceStream, error)
}

// SourceStream supplies the bytes of one outbound object. Read is
// expected to block like io.Reader; it is always called from the
// objectReader's own goroutine, never from the protocol goroutine.
type SourceStream interface {
	DeclaredSize() uint64
	MIMEType() string
	Name() (string, bool)
	Read(p []byte) (int, error)
	Close() error
}

// MIMEExtensionResolver resolves a MIME type to a file extension, used
// to build a name hint when a SourceStream has no Name of its own.
type MIMEExtensionResolver interface {
	ExtensionFor(mimeType string) (string, error)
}

type stdlibMIMEResolver struct{}

func (stdlibMIMEResolver) ExtensionFor(m string) (string, error) {
	exts, err := mime.ExtensionsByType(m)
	if err != nil || len(exts) == 0 {
		return "", &MalformedError{Reason: "no extension for mime type " + m}
	}
	return strings.TrimPrefix(exts[0], "."), nil
}

// DefaultMIMEExtensionResolver uses the standard library's mime type
// registry.
var DefaultMIMEExtensionResolver MIMEExtensionResolver = stdlibMIMEResolver{}

// openSource opens obj and rejects it up front if its declared size
// cannot fit the 4-byte OBEX Length header.
func openSource(obj Object) (SourceStream, error) {
	src, err := obj.Open()
	if err != nil {
		return nil, err
	}
	if src.DeclaredSize() > math.MaxUint32 {
		src.Close()
		return nil, ErrTooLarge
	}
	return src, nil
}

// nameHint derives a destination file name for an outbound object: its
// own Name if it has one, else "Unknown", with any leading path up to the
// last '/' removed. If the result has no '.', an extension guessed from
// the object's MIME type is appended when the resolver knows one.
func nameHint(src SourceStream, resolver MIMEExtensionResolver) string {
	name, ok := src.Name()
	if !ok || name == "" {
		name = "Unknown"
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if !strings.Contains(name, ".") {
		if ext, err := resolver.ExtensionFor(src.MIMEType()); err == nil && ext != "" {
			name += "." + ext
		}
	}
	return name
}

// readResult is what the reader worker sends back for a requested chunk.
type readResult struct {
	data []byte
	err  error
}

// objectReader runs a single background goroutine that performs blocking
// Read calls against a SourceStream on the protocol goroutine's behalf,
// so the protocol goroutine itself never blocks on object I/O. Requests
// and results are passed as messages, never as shared mutable buffers
// (spec.md §9, "reader/protocol split").
type objectReader struct {
	src   SourceStream
	reqCh chan int
	resCh chan readResult
}

func newObjectReader(src SourceStream) *objectReader {
	r := &objectReader{
		src:   src,
		reqCh: make(chan int),
		resCh: make(chan readResult, 1),
	}
	go r.loop()
	return r
}

func (r *objectReader) loop() {
	for max := range r.reqCh {
		buf := make([]byte, max)
		n, err := r.src.Read(buf)
		r.resCh <- readResult{data: buf[:n], err: err}
	}
}

// RequestChunk asks the worker to read up to max bytes. The result
// arrives later on Chunks.
func (r *objectReader) RequestChunk(max int) {
	r.reqCh <- max
}

// Chunks is the channel the session's owning goroutine selects on
// alongside inbound transport messages.
func (r *objectReader) Chunks() <-chan readResult { return r.resCh }

// Close stops the worker and releases the underlying stream. Per
// spec.md §3's teardown order (source stream, then reader worker), the
// stream is closed first; the worker is only ever idle (no in-flight
// Read) at the points Close is called from.
func (r *objectReader) Close() {
	r.src.Close()
	close(r.reqCh)
}
