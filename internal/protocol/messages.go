// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/domovik/resident-chat/internal/message"
	"github.com/domovik/resident-chat/internal/rooms"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeHello       = "hello"
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSendMessage = "send_message"
	TypeLoadOlder   = "load_older"
	TypeTyping      = "typing"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeRoomList       = "room_list"
	TypeRoomJoined     = "room_joined"
	TypeMessage        = "message"
	TypeHistory        = "message_history"
	TypeRoomUpdated    = "room_updated"
	TypeServerTyping   = "typing"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// HelloMsg identifies the resident behind the connection. It must be the
// first message on a new session.
type HelloMsg struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// JoinRoomMsg is sent by the client to start viewing a room. The server
// responds with RoomJoinedMsg carrying the newest history page.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveRoomMsg is sent by the client when it stops viewing its active room.
type LeaveRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMessageMsg is a chat message sent by the client into its active room.
type SendMessageMsg struct {
	Type    string           `json:"type"`
	RoomID  string           `json:"room_id"`
	Body    string           `json:"body"`
	Kind    string           `json:"kind,omitempty"` // defaults to text
	ReplyTo string           `json:"reply_to,omitempty"`
	File    *message.FileRef `json:"file,omitempty"`
}

// LoadOlderMsg asks for the history page preceding the given cursor.
type LoadOlderMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Cursor string `json:"cursor"`
}

// TypingMsg indicates whether the client is currently typing in its room.
type TypingMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RoomListMsg carries the resident's rooms, sent after the hello handshake.
type RoomListMsg struct {
	Type  string       `json:"type"`
	Rooms []rooms.Room `json:"rooms"`
}

// RoomJoinedMsg confirms a join and carries the newest page of history in
// ascending order, plus the cursor for loading older messages.
type RoomJoinedMsg struct {
	Type       string            `json:"type"`
	RoomID     string            `json:"room_id"`
	Messages   []message.Message `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ServerMessageMsg relays a newly created message to room viewers.
type ServerMessageMsg struct {
	Type    string          `json:"type"`
	Message message.Message `json:"message"`
}

// HistoryMsg is the response to LoadOlderMsg: an older page in ascending
// order, with the cursor for the page before it. An empty cursor means the
// beginning of the thread was reached.
type HistoryMsg struct {
	Type       string            `json:"type"`
	RoomID     string            `json:"room_id"`
	Messages   []message.Message `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// RoomUpdatedMsg notifies the client of a room's new last-message preview so
// the room list can re-render without a reload.
type RoomUpdatedMsg struct {
	Type        string            `json:"type"`
	RoomID      string            `json:"room_id"`
	LastMessage rooms.LastMessage `json:"last_message"`
}

// ServerTypingMsg relays another resident's typing indicator.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	IsTyping bool   `json:"is_typing"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeHello:
		var m HelloMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLoadOlder:
		var m LoadOlderMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
