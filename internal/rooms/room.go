// Package rooms holds the conversation room domain model, the in-memory
// room registry shared between the sync layer and thread views, and the
// PostgreSQL room store.
package rooms

import "time"

// Room kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// LastMessage is the preview summary shown in room lists.
type LastMessage struct {
	Body     string    `json:"body"`
	SenderID string    `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// Room is a conversation container with a fixed or dynamic member list.
// Rooms are never hard-deleted; membership and the last-message summary are
// the only mutable parts.
type Room struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Kind        string       `json:"kind"`
	Members     []string     `json:"members"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// HasMember reports whether the given user belongs to the room.
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}
