package obex

import "testing"

type recordingSink struct{ events []Event }

func (r *recordingSink) Emit(e Event) { r.events = append(r.events, e) }

func TestTransferStartEventMIMEFallback(t *testing.T) {
	e := transferStartEvent("AA:BB", true, "f.txt", 10, "")
	if e.ContentType != "application/octet-stream" {
		t.Fatalf("ContentType = %q, want fallback", e.ContentType)
	}
}

func TestTransferCompleteEventFields(t *testing.T) {
	e := transferCompleteEvent("AA:BB", true, true, "f.txt", 10, "text/plain")
	if e.Kind != EventTransferComplete || !e.Success || !e.Received || e.FileName != "f.txt" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestEventSinkFunc(t *testing.T) {
	var rec recordingSink
	var sink EventSink = EventSinkFunc(rec.Emit)
	sink.Emit(Event{Kind: EventFileWatcherNotify, Path: "/tmp/x"})
	if len(rec.events) != 1 || rec.events[0].Path != "/tmp/x" {
		t.Fatalf("events = %+v", rec.events)
	}
}
