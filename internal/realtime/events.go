// Package realtime provides the NATS-backed event source for chat rooms.
// Each room has two subjects: room.<room_id>.message for new messages and
// room.<room_id>.typing for typing-indicator presence. Delivery is
// at-least-once with no ordering guarantee across reconnects; consumers must
// de-duplicate and order by the message key themselves.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/domovik/resident-chat/internal/message"
)

// Event types carried on room subjects.
const (
	EventMessageCreated = "message_created"
	EventTypingStarted  = "typing_started"
	EventTypingStopped  = "typing_stopped"
)

// Event is the payload published to room.<room_id>.* subjects.
type Event struct {
	Type    string           `json:"type"`
	RoomID  string           `json:"room_id"`
	UserID  string           `json:"user_id,omitempty"` // typing events: who is typing
	Name    string           `json:"name,omitempty"`    // typing events: display-name hint
	Message *message.Message `json:"message,omitempty"` // message_created only
}

// NewMessageEvent builds a message_created event for the given message.
func NewMessageEvent(msg message.Message) Event {
	return Event{
		Type:    EventMessageCreated,
		RoomID:  msg.RoomID,
		Message: &msg,
	}
}

// NewTypingEvent builds a typing_started or typing_stopped event.
func NewTypingEvent(roomID, userID, name string, isTyping bool) Event {
	typ := EventTypingStopped
	if isTyping {
		typ = EventTypingStarted
	}
	return Event{
		Type:   typ,
		RoomID: roomID,
		UserID: userID,
		Name:   name,
	}
}

// Decode parses a raw event payload.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("realtime: decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("realtime: event missing type")
	}
	return ev, nil
}

// Encode serializes an event for publishing.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode event: %w", err)
	}
	return data, nil
}
