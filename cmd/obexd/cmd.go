// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/open-source-firmware/go-objectpush/pkg/obex"
	"github.com/open-source-firmware/go-objectpush/pkg/transport"
)

// context is the context struct required by kong command line parser
type context struct{}

// serveCmd is the struct for the serve cmd required by kong command line parser
type serveCmd struct {
	RfcommAddr  string `flag:"" default:"localhost:9000" help:"Address to listen on for RFCOMM-equivalent connections"`
	L2CAPAddr   string `flag:"" default:"localhost:9001" help:"Address to listen on for L2CAP-equivalent connections"`
	MetricsAddr string `flag:"" default:"localhost:9100" help:"Address to serve Prometheus metrics on"`
	DownloadDir string `flag:"" required:"" short:"d" help:"Directory received files are written to"`
	AutoAccept  bool   `flag:"" optional:"" help:"Accept every incoming file without prompting (use when stdin is not a terminal)"`
}

// cli is the main command line interface struct required by kong command line parser
var cli struct {
	Serve serveCmd `cmd:"" help:"Run the Object Push daemon"`
}

// confirmPrompt asks the user at the terminal whether to accept an
// incoming file, falling back to automatic acceptance when stdin isn't
// a terminal or AutoAccept was requested.
type confirmPrompt struct {
	auto bool
	in   *bufio.Reader
}

func newConfirmPrompt(auto bool) *confirmPrompt {
	return &confirmPrompt{auto: auto, in: bufio.NewReader(os.Stdin)}
}

func (c *confirmPrompt) ask(e obex.Event) bool {
	if c.auto || !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Printf("auto-accepting %s (%d bytes) from %s", e.FileName, e.FileLength, e.Address)
		return true
	}
	fmt.Printf("accept %s (%d bytes) from %s? [y/N] ", e.FileName, e.FileLength, e.Address)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

// Run executes when the serve command is invoked
func (s *serveCmd) Run(ctx *context) error {
	prompt := newConfirmPrompt(s.AutoAccept)

	var m *obex.Manager
	sink := obex.EventSinkFunc(func(e obex.Event) {
		switch e.Kind {
		case obex.EventReceivingFileConfirmation:
			go func() {
				m.ConfirmReceivingFile(prompt.ask(e))
			}()
		case obex.EventTransferComplete:
			outcome := "ok"
			if !e.Success {
				outcome = "failed"
			}
			log.Printf("transfer complete: %s received=%v outcome=%s", e.FileName, e.Received, outcome)
		}
	})

	reg := prometheus.NewRegistry()
	promSink := obex.NewPrometheusSink(reg, sink)

	m = obex.NewManager(obex.ManagerDeps{
		SinkFactory: obex.NewOSFileSinkFactory(s.DownloadDir),
		Events:      promSink,
		Resolver:    transport.NewStaticResolver(9),
		Dialer:      transport.TCPDialer{},
	})

	rfcomm, err := transport.Listen(s.RfcommAddr)
	if err != nil {
		return fmt.Errorf("listen rfcomm: %w", err)
	}
	l2cap, err := transport.Listen(s.L2CAPAddr)
	if err != nil {
		return fmt.Errorf("listen l2cap: %w", err)
	}
	m.Init(rfcomm, l2cap)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("serving metrics on http://%s/metrics", s.MetricsAddr)
	return http.ListenAndServe(s.MetricsAddr, mux)
}
