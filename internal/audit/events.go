// Package audit records session lifecycle and security-relevant actions in
// an append-only, hash-chained JSONL trail.
package audit

import (
	"sync"
	"time"
)

// EventType names one kind of audited action.
type EventType string

const (
	EventSessionStart   EventType = "session_start"
	EventSessionResume  EventType = "session_resume"
	EventSessionEnd     EventType = "session_end"
	EventItemCompleted  EventType = "item_completed"
	EventCriticalBypass EventType = "critical_bypass"
	EventPINAttempt     EventType = "pin_attempt"
	EventPINsChanged    EventType = "pins_changed"
	EventReportCreated  EventType = "report_created"
	EventReportFailed   EventType = "report_failed"
	EventReportExported EventType = "report_exported"
	EventEmailSent      EventType = "email_sent"
	EventEmailFailed    EventType = "email_failed"
)

// Event is what components hand to a Recorder.
type Event struct {
	Type    EventType
	Order   string
	ItemID  string
	Role    string
	Actor   string
	Success *bool
	Details map[string]any
}

// Recorder is the sink consumed by the guard, the controller and the
// compiler.
type Recorder interface {
	Record(e Event) error
}

func boolPtr(b bool) *bool {
	return &b
}

func SessionStart(order string) Event {
	return Event{Type: EventSessionStart, Order: order}
}

func SessionResume(order string) Event {
	return Event{Type: EventSessionResume, Order: order}
}

func SessionEnd(order string, completed bool) Event {
	return Event{Type: EventSessionEnd, Order: order, Success: boolPtr(completed)}
}

func ItemCompleted(order, itemID string, pass, critical bool) Event {
	return Event{
		Type:    EventItemCompleted,
		Order:   order,
		ItemID:  itemID,
		Success: boolPtr(pass),
		Details: map[string]any{"critical": critical},
	}
}

func CriticalBypass(order, itemID, actor string) Event {
	return Event{Type: EventCriticalBypass, Order: order, ItemID: itemID, Actor: actor}
}

// PINAttempt is emitted for every verification, including attempts rejected
// by an active lockout.
func PINAttempt(role string, success, locked bool) Event {
	e := Event{Type: EventPINAttempt, Role: role, Success: boolPtr(success)}
	if locked {
		e.Details = map[string]any{"locked": true}
	}
	return e
}

func PINsChanged() Event {
	return Event{Type: EventPINsChanged}
}

func ReportCreated(order, file string, seq int) Event {
	return Event{
		Type:    EventReportCreated,
		Order:   order,
		Details: map[string]any{"file": file, "seq": seq},
	}
}

func ReportFailed(order string, seq int, err error) Event {
	return Event{
		Type:    EventReportFailed,
		Order:   order,
		Success: boolPtr(false),
		Details: map[string]any{"seq": seq, "error": err.Error()},
	}
}

func ReportExported(order, destination string) Event {
	return Event{Type: EventReportExported, Order: order, Details: map[string]any{"destination": destination}}
}

func EmailSent(order string, recipients []string) Event {
	return Event{Type: EventEmailSent, Order: order, Success: boolPtr(true), Details: map[string]any{"recipients": recipients}}
}

func EmailFailed(order string, recipients []string, err error) Event {
	return Event{
		Type:    EventEmailFailed,
		Order:   order,
		Success: boolPtr(false),
		Details: map[string]any{"recipients": recipients, "error": err.Error()},
	}
}

// Memory keeps events in a slice. Used by tests and as a stand-in when no
// trail file is configured.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entryFromEvent(e, time.Now().UTC()))
	return nil
}

// Entries returns a copy of everything recorded so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Count returns how many entries of the given type were recorded.
func (m *Memory) Count(t EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.EventType == t {
			n++
		}
	}
	return n
}
