// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/open-source-firmware/go-objectpush/pkg/obex"
	"github.com/open-source-firmware/go-objectpush/pkg/transport"
)

// context is the context struct required by kong command line parser
type context struct{}

// pushCmd is the struct for the push cmd required by kong command line parser
type pushCmd struct {
	Peer  string   `flag:"" required:"" short:"p" help:"Address of the peer to push to (host:port)"`
	Files []string `arg:"" required:"" help:"Files to push"`
}

// cli is the main command line interface struct required by kong command line parser
var cli struct {
	Push pushCmd `cmd:"" help:"Push one or more files to a peer"`
}

// fileObject adapts a path on disk to obex.Object.
type fileObject struct {
	path string
}

func (o fileObject) Open() (obex.SourceStream, error) {
	fh, err := os.Open(o.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.path, err)
	}
	fi, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("stat %s: %w", o.path, err)
	}
	ct := mime.TypeByExtension(filepath.Ext(o.path))
	return &fileSource{fh: fh, size: uint64(fi.Size()), name: filepath.Base(o.path), mime: ct}, nil
}

type fileSource struct {
	fh   *os.File
	size uint64
	name string
	mime string
}

func (s *fileSource) DeclaredSize() uint64       { return s.size }
func (s *fileSource) MIMEType() string           { return s.mime }
func (s *fileSource) Name() (string, bool)       { return s.name, s.name != "" }
func (s *fileSource) Read(p []byte) (int, error) { return s.fh.Read(p) }
func (s *fileSource) Close() error               { return s.fh.Close() }

// Run executes when the push command is invoked
func (p *pushCmd) Run(ctx *context) error {
	for _, f := range p.Files {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("stat %s: %w", f, err)
		}
	}

	done := make(chan obex.Event, len(p.Files))
	sink := obex.EventSinkFunc(func(e obex.Event) {
		switch e.Kind {
		case obex.EventTransferStart:
			fmt.Printf("sending %s (%d bytes)\n", e.FileName, e.FileLength)
		case obex.EventUpdateProgress:
			fmt.Printf("  %d/%d bytes\n", e.BytesSoFar, e.TotalBytes)
		case obex.EventTransferComplete:
			done <- e
		}
	})

	resolver := transport.NewStaticResolver(9)
	if err := resolver.UpdateSDPRecords(p.Peer); err != nil {
		return fmt.Errorf("UpdateSDPRecords: %w", err)
	}

	m := obex.NewManager(obex.ManagerDeps{
		SinkFactory: obex.NewOSFileSinkFactory(os.TempDir()),
		Events:      sink,
		Resolver:    resolver,
		Dialer:      transport.TCPDialer{},
	})

	for _, f := range p.Files {
		if !m.SendFile(p.Peer, fileObject{path: f}) {
			return fmt.Errorf("SendFile(%s) failed", f)
		}
	}

	for range p.Files {
		select {
		case e := <-done:
			spew.Dump(e)
			if !e.Success {
				return fmt.Errorf("transfer of %s failed", e.FileName)
			}
		case <-time.After(30 * time.Second):
			return fmt.Errorf("timed out waiting for transfer completion")
		}
	}
	return nil
}
