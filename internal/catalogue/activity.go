package catalogue

import (
	"fmt"
	"time"
)

// EventType tags the wave of activities a claim belongs to.
type EventType string

// Event types raised by a scan.
const (
	EventNewFile     EventType = "new-file"
	EventUpdatedFile EventType = "updated-file"
)

// ParseEventType validates a stored event type.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventNewFile, EventUpdatedFile:
		return EventType(s), nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// PendingActivity is a persisted claim that one worker runs one handler for
// one file. At most one claim exists per (file, handler).
type PendingActivity struct {
	ID               int64
	File             FileRecord
	HandlerName      string
	EventType        EventType
	PreviousHandlers string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	WorkerHost       string
	WorkerPID        int
}
