// Package sse implements the conversion event publisher and its Server-Sent Events transport.
package sse

import (
	"strings"
	"time"
)

// EventType represents the type of an Event.
type EventType string

const (
	// EventConversionQueued is emitted when admission accepts a job.
	EventConversionQueued EventType = "conversion.queued"
	// EventConversionStarted is emitted when a job takes an active slot.
	EventConversionStarted EventType = "conversion.started"
	// EventConversionProgress is emitted whenever a job's progress percentage changes.
	EventConversionProgress EventType = "conversion.progress"
	// EventConversionCompleted is emitted after the output is finalized and recorded.
	EventConversionCompleted EventType = "conversion.completed"
	// EventConversionFailed is emitted when a job fails at any stage.
	EventConversionFailed EventType = "conversion.failed"
	// EventConversionCancelled is emitted when a queued or active job is cancelled.
	EventConversionCancelled EventType = "conversion.cancelled"

	// EventHeartbeat represents a connection keepalive event.
	// It is written by the HTTP handler only and never broadcast.
	EventHeartbeat EventType = "heartbeat"
)

// ConversionEventTypes lists every conversion event kind in lifecycle order.
var ConversionEventTypes = []EventType{
	EventConversionQueued,
	EventConversionStarted,
	EventConversionProgress,
	EventConversionCompleted,
	EventConversionFailed,
	EventConversionCancelled,
}

// ParseEventType accepts a full event type ("conversion.failed") or its short kind ("failed").
func ParseEventType(s string) (EventType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range ConversionEventTypes {
		if string(t) == s || strings.TrimPrefix(string(t), "conversion.") == s {
			return t, true
		}
	}
	return "", false
}

// Event represents an event delivered to subscribers.
// The Data field contains the event payload as a JSON object for direct deserialization.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
	ItemID    int64     `json:"item_id,omitempty"`
}

// ConversionEventData is the payload for queued, started and cancelled events.
type ConversionEventData struct {
	ItemID   int64  `json:"item_id"`
	FileName string `json:"file_name"`
}

// ConversionProgressEventData is the payload for progress events.
type ConversionProgressEventData struct {
	ItemID   int64  `json:"item_id"`
	FileName string `json:"file_name"`
	Progress int    `json:"progress"`
}

// ConversionCompletedEventData is the payload for completion events.
type ConversionCompletedEventData struct {
	ItemID     int64  `json:"item_id"`
	FileName   string `json:"file_name"`
	OutputPath string `json:"output_path"`
}

// ConversionFailedEventData is the payload for failure events.
type ConversionFailedEventData struct {
	ItemID   int64  `json:"item_id"`
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

func newConversionEvent(t EventType, itemID int64, data any) Event {
	return Event{
		Type:      t,
		ItemID:    itemID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewConversionQueuedEvent creates a conversion.queued event.
func NewConversionQueuedEvent(itemID int64, fileName string) Event {
	return newConversionEvent(EventConversionQueued, itemID,
		ConversionEventData{ItemID: itemID, FileName: fileName})
}

// NewConversionStartedEvent creates a conversion.started event.
func NewConversionStartedEvent(itemID int64, fileName string) Event {
	return newConversionEvent(EventConversionStarted, itemID,
		ConversionEventData{ItemID: itemID, FileName: fileName})
}

// NewConversionProgressEvent creates a conversion.progress event.
func NewConversionProgressEvent(itemID int64, fileName string, progress int) Event {
	return newConversionEvent(EventConversionProgress, itemID,
		ConversionProgressEventData{ItemID: itemID, FileName: fileName, Progress: progress})
}

// NewConversionCompletedEvent creates a conversion.completed event.
func NewConversionCompletedEvent(itemID int64, fileName, outputPath string) Event {
	return newConversionEvent(EventConversionCompleted, itemID,
		ConversionCompletedEventData{ItemID: itemID, FileName: fileName, OutputPath: outputPath})
}

// NewConversionFailedEvent creates a conversion.failed event.
func NewConversionFailedEvent(itemID int64, fileName, errMsg string) Event {
	return newConversionEvent(EventConversionFailed, itemID,
		ConversionFailedEventData{ItemID: itemID, FileName: fileName, Error: errMsg})
}

// NewConversionCancelledEvent creates a conversion.cancelled event.
func NewConversionCancelledEvent(itemID int64, fileName string) Event {
	return newConversionEvent(EventConversionCancelled, itemID,
		ConversionEventData{ItemID: itemID, FileName: fileName})
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Data:      HeartbeatEventData{ServerTime: now},
		Timestamp: now,
	}
}
