// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obex

// EventKind names one of the five event types this engine emits.
type EventKind string

const (
	EventTransferStart             EventKind = "transfer-start"
	EventReceivingFileConfirmation EventKind = "receiving-file-confirmation"
	EventUpdateProgress            EventKind = "update-progress"
	EventTransferComplete          EventKind = "transfer-complete"
	EventFileWatcherNotify         EventKind = "file-watcher-notify"
)

// Event is one emitted occurrence, carrying the fields spec.md §4.7
// defines for its Kind. Not every field is populated for every kind;
// callers should only read the fields documented for the Kind at hand.
type Event struct {
	Kind EventKind

	Address     string
	Received    bool
	FileName    string
	FileLength  uint64
	ContentType string
	Success     bool
	BytesSoFar  uint64
	TotalBytes  uint64
	Path        string
}

// EventSink receives emitted events. Implementations must not block the
// caller for long; the session's protocol goroutine calls Emit inline.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to an EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// NoopEventSink discards every event.
var NoopEventSink EventSink = EventSinkFunc(func(Event) {})

// QueueLengthReporter is implemented by event sinks (PrometheusSink) that
// additionally track the active send queue's depth as a gauge. Session
// checks for this optionally, via a type assertion on its EventSink, so a
// plain EventSink with no such method still works unmodified.
type QueueLengthReporter interface {
	SetQueueLength(n int)
}

func transferStartEvent(addr string, received bool, name string, length uint64, contentType string) Event {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Event{
		Kind:        EventTransferStart,
		Address:     addr,
		Received:    received,
		FileName:    name,
		FileLength:  length,
		ContentType: contentType,
	}
}

func receivingFileConfirmationEvent(addr, name string, length uint64, contentType string) Event {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Event{
		Kind:        EventReceivingFileConfirmation,
		Address:     addr,
		Received:    true,
		FileName:    name,
		FileLength:  length,
		ContentType: contentType,
	}
}

func updateProgressEvent(addr string, received bool, bytesSoFar, total uint64) Event {
	return Event{
		Kind:       EventUpdateProgress,
		Address:    addr,
		Received:   received,
		BytesSoFar: bytesSoFar,
		TotalBytes: total,
	}
}

func transferCompleteEvent(addr string, success, received bool, name string, length uint64, contentType string) Event {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Event{
		Kind:        EventTransferComplete,
		Address:     addr,
		Received:    received,
		Success:     success,
		FileName:    name,
		FileLength:  length,
		ContentType: contentType,
	}
}

func fileWatcherNotifyEvent(path string) Event {
	return Event{Kind: EventFileWatcherNotify, Path: path}
}
