package watcher

import "time"

// EventType represents the type of a cache directory event.
type EventType int

const (
	// EventAdded is emitted when a new file appears and has stopped changing.
	EventAdded EventType = iota
	// EventRemoved is emitted when a file is deleted or renamed away.
	EventRemoved
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one observed change in a watched directory.
type Event struct {
	Type EventType
	Path string

	// Size and ModTime are set for EventAdded only.
	Size    int64
	ModTime time.Time
}
