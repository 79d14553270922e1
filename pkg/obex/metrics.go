// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink wraps an EventSink and additionally exports counters and
// gauges describing session activity. Unlike cmd/tcgdiskstat's one-shot
// NewDesc/MustNewConstMetric scrape, this engine runs as a long-lived
// daemon, so the metrics are live CounterVec/GaugeVec instances updated
// as events arrive.
type PrometheusSink struct {
	next EventSink

	transfersTotal    *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	transferErrsTotal *prometheus.CounterVec
	queueLength       prometheus.Gauge

	mu       sync.Mutex
	lastSeen map[bool]uint64 // keyed by Event.Received, last cumulative BytesSoFar observed
}

// NewPrometheusSink registers the engine's metrics on reg and returns a
// sink that forwards every event to next after recording it. next may be
// NoopEventSink.
func NewPrometheusSink(reg prometheus.Registerer, next EventSink) *PrometheusSink {
	s := &PrometheusSink{
		next: next,
		transfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obex_transfers_total",
			Help: "Completed Object Push transfers, by direction and outcome.",
		}, []string{"direction", "outcome"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obex_bytes_transferred_total",
			Help: "Bytes transferred, by direction.",
		}, []string{"direction"}),
		transferErrsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obex_transfer_errors_total",
			Help: "Transfers that completed unsuccessfully, by direction.",
		}, []string{"direction"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obex_queue_length",
			Help: "Number of objects remaining in the active send queue.",
		}),
		lastSeen: make(map[bool]uint64, 2),
	}
	reg.MustRegister(s.transfersTotal, s.bytesTotal, s.transferErrsTotal, s.queueLength)
	return s
}

// Emit records metrics for e and forwards it to the wrapped sink.
func (s *PrometheusSink) Emit(e Event) {
	direction := "outbound"
	if e.Received {
		direction = "inbound"
	}
	switch e.Kind {
	case EventTransferStart:
		s.mu.Lock()
		s.lastSeen[e.Received] = 0
		s.mu.Unlock()
	case EventTransferComplete:
		outcome := "success"
		if !e.Success {
			outcome = "failure"
			s.transferErrsTotal.WithLabelValues(direction).Inc()
		}
		s.transfersTotal.WithLabelValues(direction, outcome).Inc()
	case EventUpdateProgress:
		s.mu.Lock()
		delta := e.BytesSoFar - s.lastSeen[e.Received]
		s.lastSeen[e.Received] = e.BytesSoFar
		s.mu.Unlock()
		s.bytesTotal.WithLabelValues(direction).Add(float64(delta))
	}
	if s.next != nil {
		s.next.Emit(e)
	}
}

// SetQueueLength updates the obex_queue_length gauge. Session calls this,
// via the QueueLengthReporter type assertion on its EventSink, whenever
// SendFile appends to the queue or the queue advances past a completed
// object.
func (s *PrometheusSink) SetQueueLength(n int) {
	s.queueLength.Set(float64(n))
}
