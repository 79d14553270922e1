package obex

import (
	"bytes"
	"io"
	"testing"
	"time"
)

type bufSource struct {
	data    []byte
	pos     int
	name    string
	hasN    bool
	mime    string
	closed  bool
	sizeOverride uint64
}

func (s *bufSource) DeclaredSize() uint64 {
	if s.sizeOverride != 0 {
		return s.sizeOverride
	}
	return uint64(len(s.data))
}
func (s *bufSource) MIMEType() string     { return s.mime }
func (s *bufSource) Name() (string, bool) { return s.name, s.hasN }
func (s *bufSource) Close() error         { s.closed = true; return nil }
func (s *bufSource) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func TestObjectReaderDeliversChunks(t *testing.T) {
	src := &bufSource{data: []byte("hello world")}
	r := newObjectReader(src)
	defer r.Close()

	r.RequestChunk(5)
	select {
	case res := <-r.Chunks():
		if res.err != nil || !bytes.Equal(res.data, []byte("hello")) {
			t.Fatalf("chunk = %q, err = %v", res.data, res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}

	r.RequestChunk(20)
	select {
	case res := <-r.Chunks():
		if res.err != nil || !bytes.Equal(res.data, []byte(" world")) {
			t.Fatalf("chunk = %q, err = %v", res.data, res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}
}

func TestOpenSourceRejectsTooLarge(t *testing.T) {
	obj := fakeOversizedObject{}
	if _, err := openSource(obj); err != ErrTooLarge {
		t.Fatalf("openSource = %v, want ErrTooLarge", err)
	}
}

type fakeOversizedObject struct{}

func (fakeOversizedObject) Open() (SourceStream, error) {
	return &bufSource{sizeOverride: uint64(1) << 33, mime: "application/octet-stream"}, nil
}

func TestNameHintUsesExtensionFromMIME(t *testing.T) {
	src := &bufSource{name: "picture", hasN: true, mime: "image/png"}
	got := nameHint(src, DefaultMIMEExtensionResolver)
	if got != "picture.png" {
		t.Fatalf("nameHint = %q, want picture.png", got)
	}
}

func TestNameHintFallsBackToUnknown(t *testing.T) {
	src := &bufSource{hasN: false, mime: "application/x-objectpush-unregistered"}
	got := nameHint(src, DefaultMIMEExtensionResolver)
	if got != "Unknown" {
		t.Fatalf("nameHint = %q, want Unknown", got)
	}
}
