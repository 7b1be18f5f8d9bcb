package rooms

import "sync"

// Registry holds the set of rooms visible to the current user and the
// currently selected room. It has a single-writer contract: only the sync
// layer (the push-event handler and the room-creation path) mutates it;
// thread views read snapshots. The selected room ID, when set, always
// resolves to a registered room.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	order    []string // room IDs in list order
	selected string   // empty when no room is selected
	onUpdate func()   // invoked after every mutation, outside the lock
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// SetOnUpdate registers a callback invoked after every registry mutation.
// It replaces any previously registered callback. The callback runs outside
// the registry lock, so it may safely read the registry.
func (reg *Registry) SetOnUpdate(fn func()) {
	reg.mu.Lock()
	reg.onUpdate = fn
	reg.mu.Unlock()
}

// Replace swaps the full room list, preserving the selection when the
// selected room survives and clearing it otherwise.
func (reg *Registry) Replace(list []Room) {
	reg.mu.Lock()
	reg.rooms = make(map[string]*Room, len(list))
	reg.order = make([]string, 0, len(list))
	for i := range list {
		r := list[i]
		reg.rooms[r.ID] = &r
		reg.order = append(reg.order, r.ID)
	}
	if _, ok := reg.rooms[reg.selected]; !ok {
		reg.selected = ""
	}
	fn := reg.onUpdate
	reg.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Upsert adds or replaces a single room.
func (reg *Registry) Upsert(r Room) {
	reg.mu.Lock()
	if _, ok := reg.rooms[r.ID]; !ok {
		reg.order = append(reg.order, r.ID)
	}
	reg.rooms[r.ID] = &r
	fn := reg.onUpdate
	reg.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// TouchLastMessage updates the room's preview summary. Unknown rooms are
// ignored; the push handler may race with the initial room-list load.
func (reg *Registry) TouchLastMessage(roomID string, lm LastMessage) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if ok {
		r.LastMessage = &lm
	}
	fn := reg.onUpdate
	reg.mu.Unlock()

	if ok && fn != nil {
		fn()
	}
}

// Select sets the currently selected room. Selecting an unknown room ID
// returns false and leaves the selection unchanged; an empty ID clears the
// selection.
func (reg *Registry) Select(roomID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if roomID == "" {
		reg.selected = ""
		return true
	}
	if _, ok := reg.rooms[roomID]; !ok {
		return false
	}
	reg.selected = roomID
	return true
}

// Selected returns the currently selected room ID, or empty.
func (reg *Registry) Selected() string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.selected
}

// Get returns a copy of the room with the given ID.
func (reg *Registry) Get(roomID string) (Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

// List returns a snapshot of all rooms in list order.
func (reg *Registry) List() []Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Room, 0, len(reg.order))
	for _, id := range reg.order {
		out = append(out, *reg.rooms[id])
	}
	return out
}
