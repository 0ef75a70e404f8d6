// Package audit records a bounded trail of security-relevant events for a
// transfer session: claims, claim rejections, chunk authentication
// failures, finalize, and completion. Bearer tokens and session keys are
// never written to an event.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType names the kind of audit event.
type EventType string

const (
	EventClaim            EventType = "claim"
	EventClaimRejected    EventType = "claim_rejected"
	EventChunkAuthFailure EventType = "chunk_auth_failure"
	EventFinalize         EventType = "finalize"
	EventComplete         EventType = "complete"
)

// Event is one audit record. Fields are all safe to log: no token, no
// session key, no plaintext.
type Event struct {
	RequestID string            `json:"request_id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	ClientID  string            `json:"client_id,omitempty"`
	FileIndex *int              `json:"file_index,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// EventWriter accepts audit events for an external sink. The default,
// logrusWriter, writes through logrus at Warn level for rejected claims
// and chunk authentication failures and at Info level otherwise.
type EventWriter interface {
	WriteEvent(Event)
}

// Log is a bounded in-memory ring of the most recent events plus a
// pluggable writer for durable delivery. Capacity is fixed at
// construction (config's audit.max_events).
type Log struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	next     int
	full     bool
	writer   EventWriter
}

// New builds a Log holding at most capacity events, writing every event
// through writer as it arrives. If writer is nil, events go to a
// logrus-backed default writer.
func New(capacity int, writer EventWriter) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	if writer == nil {
		writer = NewLogrusWriter(logrus.StandardLogger())
	}
	return &Log{
		events:   make([]Event, capacity),
		capacity: capacity,
		writer:   writer,
	}
}

// Record appends an event, generating a RequestID if one wasn't supplied
// and stamping Timestamp, then ring-buffers it and forwards it to the
// configured writer.
func (l *Log) Record(evt Event) {
	if evt.RequestID == "" {
		evt.RequestID = uuid.NewString()
	}
	evt.Timestamp = time.Now()

	l.mu.Lock()
	l.events[l.next] = evt
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.writer.WriteEvent(evt)
}

// Recent returns up to the ring's full contents, oldest first.
func (l *Log) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]Event, l.next)
		copy(out, l.events[:l.next])
		return out
	}
	out := make([]Event, l.capacity)
	copy(out, l.events[l.next:])
	copy(out[l.capacity-l.next:], l.events[:l.next])
	return out
}

// logrusWriter is the default EventWriter, forwarding every event to a
// logrus logger as structured fields.
type logrusWriter struct {
	logger *logrus.Logger
}

// NewLogrusWriter builds an EventWriter that logs through logger.
func NewLogrusWriter(logger *logrus.Logger) EventWriter {
	return &logrusWriter{logger: logger}
}

func (w *logrusWriter) WriteEvent(evt Event) {
	fields := logrus.Fields{
		"request_id": evt.RequestID,
		"event_type": evt.Type,
	}
	if evt.ClientID != "" {
		fields["client_id"] = evt.ClientID
	}
	if evt.FileIndex != nil {
		fields["file_index"] = *evt.FileIndex
	}
	for k, v := range evt.Fields {
		fields[k] = v
	}
	entry := w.logger.WithFields(fields)
	if evt.Type == EventClaimRejected || evt.Type == EventChunkAuthFailure {
		entry.Warn(evt.Detail)
		return
	}
	entry.Info(evt.Detail)
}
