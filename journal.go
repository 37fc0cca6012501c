package unwind

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventType defines the kinds of events recorded for a step.
type EventType int

const (
	EventStarted EventType = iota
	EventSucceeded
	EventFailed
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventUndoStarted:
		return "undo_started"
	case EventUndoFinished:
		return "undo_finished"
	case EventUndoFailed:
		return "undo_failed"
	default:
		return fmt.Sprintf("unknown EventType: %d", t)
	}
}

// MarshalJSON implements the json.Marshaler interface for EventType.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for EventType.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "started":
		*t = EventStarted
	case "succeeded":
		*t = EventSucceeded
	case "failed":
		*t = EventFailed
	case "undo_started":
		*t = EventUndoStarted
	case "undo_finished":
		*t = EventUndoFinished
	case "undo_failed":
		*t = EventUndoFailed
	default:
		return fmt.Errorf("invalid EventType: %s", str)
	}

	return nil
}

// Event is one entry in a transaction's journal.
type Event struct {
	Txn  string    `json:"txn"`
	Step string    `json:"step"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

// String implements the fmt.Stringer interface for Event.
func (e *Event) String() string {
	return fmt.Sprintf("%-20s %s", e.Step, e.Type.String())
}

// stepProgress is the position of one step implied by the journal so far.
type stepProgress int

const (
	progressNeverStarted stepProgress = iota
	progressStarted
	progressSucceeded
	progressFailed
	progressUndoStarted
	progressUndoFinished
	progressUndoFailed
)

// next returns the new progress for a step after recording the given event.
func (p stepProgress) next(eventType EventType) (stepProgress, error) {
	switch p {
	case progressNeverStarted:
		if eventType == EventStarted {
			return progressStarted, nil
		}
	case progressStarted:
		switch eventType {
		case EventSucceeded:
			return progressSucceeded, nil
		case EventFailed:
			return progressFailed, nil
		}
	case progressSucceeded:
		if eventType == EventUndoStarted {
			return progressUndoStarted, nil
		}
	case progressUndoStarted:
		switch eventType {
		case EventUndoFinished:
			return progressUndoFinished, nil
		case EventUndoFailed:
			return progressUndoFailed, nil
		}
	}

	return progressNeverStarted, fmt.Errorf(
		"illegal event type %s for current step progress %d",
		eventType, p,
	)
}

// Journal is the ordered event log for one transaction. Record validates
// every event against the step's current progress, so an illegal sequence
// (an undo for a step that never succeeded, say) is rejected rather than
// written.
type Journal struct {
	mu        sync.Mutex
	txn       string
	unwinding bool
	events    []Event
	progress  map[string]stepProgress
}

// NewJournal creates a new, empty Journal for the given transaction ID.
func NewJournal(txn string) *Journal {
	return &Journal{
		txn:      txn,
		events:   make([]Event, 0),
		progress: make(map[string]stepProgress),
	}
}

// Record appends an event to the journal. The event timestamp is stamped
// here unless it was already set.
func (j *Journal) Record(event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if event.Txn != j.txn {
		return fmt.Errorf(
			"event for different transaction (%s) than journal (%s)",
			event.Txn, j.txn,
		)
	}

	current := j.progress[event.Step]
	next, err := current.next(event.Type)
	if err != nil {
		return err
	}

	switch next {
	case progressFailed, progressUndoStarted:
		j.unwinding = true
	}

	if event.At.IsZero() {
		event.At = time.Now()
	}

	j.progress[event.Step] = next
	j.events = append(j.events, event)
	return nil
}

// Unwinding reports whether the journal has seen a failure or an undo.
func (j *Journal) Unwinding() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.unwinding
}

// Events returns a copy of the events recorded so far.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := make([]Event, len(j.events))
	copy(events, j.events)
	return events
}

// JournalPretty is a helper for pretty-printing a Journal, for CLI output.
type JournalPretty struct {
	Journal *Journal
}

// String implements the fmt.Stringer interface for JournalPretty.
func (p *JournalPretty) String() string {
	p.Journal.mu.Lock()
	defer p.Journal.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("TRANSACTION JOURNAL:\n")
	sb.WriteString(fmt.Sprintf("transaction: %s\n", p.Journal.txn))
	direction := "forward"
	if p.Journal.unwinding {
		direction = "unwinding"
	}
	sb.WriteString(fmt.Sprintf("direction:   %s\n", direction))
	sb.WriteString(fmt.Sprintf("events (%d total):\n", len(p.Journal.events)))
	sb.WriteString("\n")
	for i, event := range p.Journal.events {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, event.String()))
	}
	return sb.String()
}
