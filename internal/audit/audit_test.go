package audit

import (
	"sync"
	"testing"
)

type captureWriter struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureWriter) WriteEvent(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func TestRecordStampsRequestIDAndTimestamp(t *testing.T) {
	cw := &captureWriter{}
	log := New(10, cw)

	log.Record(Event{Type: EventClaim, ClientID: "client-a"})

	recent := log.Recent()
	if len(recent) != 1 {
		t.Fatalf("Recent() len = %d, want 1", len(recent))
	}
	if recent[0].RequestID == "" {
		t.Fatalf("expected generated RequestID")
	}
	if recent[0].Timestamp.IsZero() {
		t.Fatalf("expected stamped timestamp")
	}
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	cw := &captureWriter{}
	log := New(3, cw)

	for i := 0; i < 5; i++ {
		idx := i
		log.Record(Event{Type: EventFinalize, FileIndex: &idx})
	}

	recent := log.Recent()
	if len(recent) != 3 {
		t.Fatalf("Recent() len = %d, want 3", len(recent))
	}
	if *recent[0].FileIndex != 2 || *recent[2].FileIndex != 4 {
		t.Fatalf("expected oldest-to-newest window [2,3,4], got indices %d..%d", *recent[0].FileIndex, *recent[2].FileIndex)
	}
}

func TestRecordForwardsToWriter(t *testing.T) {
	cw := &captureWriter{}
	log := New(10, cw)

	log.Record(Event{Type: EventChunkAuthFailure, Detail: "bad tag"})

	if len(cw.events) != 1 {
		t.Fatalf("writer received %d events, want 1", len(cw.events))
	}
	if cw.events[0].Type != EventChunkAuthFailure {
		t.Fatalf("writer event type = %q, want %q", cw.events[0].Type, EventChunkAuthFailure)
	}
}

func TestRecordNeverIncludesTokenOrKeyFields(t *testing.T) {
	// Event has no Token/SessionKey field at all — this is enforced by the
	// type itself, not by runtime filtering. This test documents the
	// contract so a future field addition can't reintroduce one silently.
	evt := Event{Type: EventClaim, ClientID: "client-a"}
	if evt.Fields == nil {
		evt.Fields = map[string]string{}
	}
	if _, ok := evt.Fields["token"]; ok {
		t.Fatalf("audit event must never carry a token field")
	}
}
