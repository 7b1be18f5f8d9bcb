// Package message defines the chat message domain type, its ordering key,
// content validation, and PostgreSQL-backed persistence with cursor-based
// pagination.
package message

import "time"

// Content kinds for a message.
const (
	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"
)

// FileRef points at an uploaded attachment for image/file messages.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message is a single chat message. Messages are immutable once created.
// SenderID is empty for system messages (e.g. "user joined the room").
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id,omitempty"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	File      *FileRef  `json:"file,omitempty"`
}

// Less reports whether m sorts before other. The ordering key is
// (CreatedAt, ID): creation timestamp first, identifier as tiebreak for
// equal timestamps.
func (m Message) Less(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
