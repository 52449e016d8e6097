package farcaster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the webhook "type" field.
type EventType string

const (
	EventFrameAdded            EventType = "frame_added"
	EventFrameRemoved          EventType = "frame_removed"
	EventNotificationsEnabled  EventType = "notifications_enabled"
	EventNotificationsDisabled EventType = "notifications_disabled"
)

// Event is a mini-app webhook notification. Only type and data.fid are read.
type Event struct {
	Type EventType
	fid  string
}

// ParseEvent decodes a webhook body leniently. Any well-formed JSON value
// other than null is accepted: a non-string type is kept as its JSON text,
// and a missing or malformed data object leaves the fid empty.
func ParseEvent(body []byte) (Event, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return Event{}, errors.New("farcaster: webhook body is not valid JSON")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return Event{}, errors.New("farcaster: webhook body is null")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		// Arrays, strings and numbers carry no fields.
		return Event{}, nil
	}

	ev := Event{Type: EventType(scalarText(obj["type"]))}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(obj["data"], &data); err == nil {
		ev.fid = scalarText(data["fid"])
	}
	return ev, nil
}

// scalarText renders a raw JSON value the way it would be logged: strings
// unquoted, null or absent as "", anything else as its compact JSON text.
func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Known reports whether the type is one of the four handled events.
func (e Event) Known() bool {
	switch e.Type {
	case EventFrameAdded, EventFrameRemoved, EventNotificationsEnabled, EventNotificationsDisabled:
		return true
	}
	return false
}

// FID returns the user fid or "" when the payload carries none.
func (e Event) FID() string {
	return e.fid
}

// Describe returns the log line for the event.
func Describe(e Event) string {
	fid := e.FID()
	if fid == "" {
		fid = "unknown"
	}
	switch e.Type {
	case EventFrameAdded:
		return "Frame was added by user: " + fid
	case EventFrameRemoved:
		return "Frame was removed by user: " + fid
	case EventNotificationsEnabled:
		return "Notifications enabled by user: " + fid
	case EventNotificationsDisabled:
		return "Notifications disabled by user: " + fid
	default:
		return fmt.Sprintf("Unknown webhook event type: %s", e.Type)
	}
}
