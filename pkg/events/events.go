// Package events defines the discussion event model and a watermill-backed
// bus for delivering it to observers, either in-process or over Redis
// Streams.
package events

import (
	"encoding/json"
	"time"
)

// Event types emitted by the controller.
const (
	TypeDiscussionStarted    = "discussion_started"
	TypeSVRComputed          = "svr_computed"
	TypeDecisionMade         = "decision_made"
	TypeTurnCompleted        = "turn_completed"
	TypeMonitorUpdate        = "monitor_update"
	TypeDiscussionPaused     = "discussion_paused"
	TypeDiscussionResumed    = "discussion_resumed"
	TypeDiscussionRedirected = "discussion_redirected"
	TypeErrorOccurred        = "error_occurred"
	TypeDiscussionEnded      = "discussion_ended"
)

// Event is one observer-facing notification.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// New stamps an event with the current time.
func New(eventType, sessionID string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      data,
	}
}

// Topic computes the per-session event topic.
func Topic(sessionID string) string { return "discussion:" + sessionID }

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes an event payload.
func Unmarshal(payload []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(payload, &e)
	return e, err
}
