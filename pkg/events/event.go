package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is what travels on the bus. Type is the topic it was published on;
// the bus fills it in along with any missing ID or Timestamp.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	Source    string
	Data      any
}

// NewEvent stamps data from source, one of the daemon's component names.
func NewEvent(source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// NAS returns the access point the event is scoped to, or "" for events
// that are not.
func (e Event) NAS() string {
	switch d := e.Data.(type) {
	case SessionLifecycleEvent:
		return d.NAS
	case NotifyEvent:
		return d.NAS
	}
	return ""
}
