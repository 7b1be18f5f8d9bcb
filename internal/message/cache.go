package message

import "sync"

// MaxCachedMessages is the number of recent messages retained per room.
const MaxCachedMessages = 50

// Cache keeps the last N messages per room in memory. It backs room-list
// previews and lets the server answer a join with recent history without a
// database round trip. It is goroutine-safe and uses a ring buffer per room.
type Cache struct {
	mu    sync.RWMutex
	rooms map[string]*ring // roomID -> ring buffer
}

// ring is a fixed-size circular buffer of messages.
type ring struct {
	items []Message
	pos   int
	count int
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{rooms: make(map[string]*ring)}
}

// Add appends a message to the room's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (c *Cache) Add(roomID string, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[roomID]
	if !ok {
		r = &ring{items: make([]Message, MaxCachedMessages)}
		c.rooms[roomID] = r
	}

	r.items[r.pos] = msg
	r.pos = (r.pos + 1) % MaxCachedMessages
	if r.count < MaxCachedMessages {
		r.count++
	}
}

// Recent returns the cached messages for a room in chronological order
// (oldest first). Returns an empty slice if the room has no cache entry.
func (c *Cache) Recent(roomID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	if !ok {
		return []Message{}
	}

	result := make([]Message, r.count)
	// The oldest message sits at (pos - count) mod MaxCachedMessages.
	start := (r.pos - r.count + MaxCachedMessages) % MaxCachedMessages
	for i := 0; i < r.count; i++ {
		result[i] = r.items[(start+i)%MaxCachedMessages]
	}
	return result
}

// Latest returns the most recent cached message for a room, or false if the
// room has no cached messages.
func (c *Cache) Latest(roomID string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	if !ok || r.count == 0 {
		return Message{}, false
	}
	last := (r.pos - 1 + MaxCachedMessages) % MaxCachedMessages
	return r.items[last], true
}

// Drop deletes the cache for a room.
func (c *Cache) Drop(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.rooms, roomID)
}
