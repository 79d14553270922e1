// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// FileSink receives the bytes of one inbound object.
type FileSink interface {
	Append(p []byte) error
	Discard() error
	Finalize() (path string, err error)
}

// FileSinkFactory creates a FileSink for a sanitized file name, choosing
// a collision-free name if one already exists at the destination. It
// returns the name actually used, which may differ from the requested
// one.
type FileSinkFactory interface {
	Create(name string) (FileSink, string, error)
}

// maxCollisionAttempts bounds how many suffixed names osFileSinkFactory
// tries before giving up.
const maxCollisionAttempts = 8

var invalidNameRunes = regexp.MustCompile(`[\x00-\x1f/\\:*?"<>|]`)

// sanitizeFileName replaces characters invalid in a destination file name
// with '_' per spec.md's testable property 4, trims surrounding spaces, and
// returns "unnamed" for an empty result.
func sanitizeFileName(name string) string {
	name = invalidNameRunes.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unnamed"
	}
	return name
}

// osFileSinkFactory writes inbound objects under a root directory on the
// local filesystem, generalizing the teacher's pkg/drive/drive_nix.go
// os.OpenFile pattern from a block device to a regular file.
type osFileSinkFactory struct {
	root string
}

// NewOSFileSinkFactory returns a FileSinkFactory rooted at dir.
func NewOSFileSinkFactory(dir string) FileSinkFactory {
	return &osFileSinkFactory{root: dir}
}

func (f *osFileSinkFactory) Create(name string) (FileSink, string, error) {
	name = sanitizeFileName(name)
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return nil, "", fmt.Errorf("obex: create download directory: %w", err)
	}

	actual := name
	fh, err := os.OpenFile(filepath.Join(f.root, actual), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	for attempt := 0; err != nil && os.IsExist(err) && attempt < maxCollisionAttempts; attempt++ {
		actual = suffixedName(name, attempt)
		fh, err = os.OpenFile(filepath.Join(f.root, actual), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return nil, "", fmt.Errorf("obex: open inbound file: %w", err)
	}
	return &osSink{fh: fh, path: filepath.Join(f.root, actual)}, actual, nil
}

// suffixedName disambiguates name on collision using a short blake2b sum
// of the name and attempt count, rather than a predictable "(n)" counter.
func suffixedName(name string, attempt int) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s#%d", name, attempt)))
	return fmt.Sprintf("%s-%x%s", base, sum[:4], ext)
}

type osSink struct {
	fh   *os.File
	path string
}

func (s *osSink) Append(p []byte) error {
	n, err := s.fh.Write(p)
	if err != nil {
		return fmt.Errorf("obex: write inbound file: %w", err)
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func (s *osSink) Discard() error {
	s.fh.Close()
	return os.Remove(s.path)
}

func (s *osSink) Finalize() (string, error) {
	if err := s.fh.Close(); err != nil {
		return "", fmt.Errorf("obex: close inbound file: %w", err)
	}
	return s.path, nil
}
