// Package notify delivers repayment engine events.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType names an engine event
type EventType string

const (
	ScheduleRegistered  EventType = "schedule_registered"
	CycleSettled        EventType = "cycle_settled"
	EarlyPayoffSettled  EventType = "early_payoff_settled"
	SettlementFailed    EventType = "settlement_failed"
	DelinquencyReported EventType = "delinquency_reported"
	RightsHolderChanged EventType = "rights_holder_changed"
	NoteClosed          EventType = "note_closed"
)

// Event is a single engine notification
type Event struct {
	ID     string         `json:"id"`
	Type   EventType      `json:"type"`
	NoteID string         `json:"note_id"`
	Amount int64          `json:"amount,omitempty"`
	From   string         `json:"from,omitempty"`
	To     string         `json:"to,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	At     time.Time      `json:"at"`
}

// NewEvent stamps an event with a fresh id
func NewEvent(typ EventType, noteID string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, NoteID: noteID, At: at}
}

// Notifier receives engine events. Delivery failures never affect engine state.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Log writes every event to the structured log
type Log struct {
	log *logrus.Logger
}

// NewLog creates a logging notifier
func NewLog(log *logrus.Logger) *Log {
	return &Log{log: log}
}

// Notify logs the event; settlement failures are logged at warn level
func (n *Log) Notify(_ context.Context, ev Event) error {
	entry := n.log.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"event":    ev.Type,
		"note_id":  ev.NoteID,
	})
	if ev.Amount != 0 {
		entry = entry.WithField("amount", ev.Amount)
	}
	for k, v := range ev.Fields {
		entry = entry.WithField(k, v)
	}
	if ev.Type == SettlementFailed {
		entry.WithField("reason", ev.Reason).Warn("Settlement failed")
		return nil
	}
	entry.Info("Repayment event")
	return nil
}

// Multi fans an event out to every notifier and returns the first error
type Multi []Notifier

// Notify delivers ev to all notifiers
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps events in memory; used by tests and the debug API
type Recorder struct {
	events chan Event
}

// NewRecorder creates a recorder holding up to size events
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

// Notify stores the event, dropping it when the buffer is full
func (r *Recorder) Notify(_ context.Context, ev Event) error {
	select {
	case r.events <- ev:
	default:
	}
	return nil
}

// Drain returns and clears all recorded events
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
