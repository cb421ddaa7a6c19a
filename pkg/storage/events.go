package storage

import "time"

// EventType represents the type of storage event emitted.
type EventType string

// Storage event type constants.
const (
	EventStatusReportSaved EventType = "status_report.saved"
)

// Event represents a change inside the storage layer that other subsystems can react to.
type Event struct {
	Type      EventType `json:"type"`
	EntityID  string    `json:"entityId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer reacts to storage events.
type Observer interface {
	HandleStorageEvent(Event)
}

// ObserverFunc is a helper to turn a function into an Observer.
type ObserverFunc func(Event)

// HandleStorageEvent implements the Observer interface.
func (f ObserverFunc) HandleStorageEvent(e Event) {
	f(e)
}

func newEvent(eventType EventType, entityID string, data any) Event {
	return Event{
		Type:      eventType,
		EntityID:  entityID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
