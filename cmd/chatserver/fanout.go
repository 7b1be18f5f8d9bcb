package main

import "sync"

// fanoutTracker reference-counts local viewers per room and keeps exactly
// one live fanout subscription for every room with at least one viewer.
// A failed subscribe leaves the room marked not-live so the next join
// retries instead of assuming the room is covered.
type fanoutTracker struct {
	mu   sync.Mutex
	subs map[string]int  // room_id -> local viewer count
	live map[string]bool // room_id -> subscription established

	subscribe   func(roomID string) error
	unsubscribe func(roomID string)
}

func newFanoutTracker(subscribe func(roomID string) error, unsubscribe func(roomID string)) *fanoutTracker {
	return &fanoutTracker{
		subs:        make(map[string]int),
		live:        make(map[string]bool),
		subscribe:   subscribe,
		unsubscribe: unsubscribe,
	}
}

// join registers a viewer and establishes the room subscription if it is
// not already live.
func (t *fanoutTracker) join(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[roomID]++
	if t.live[roomID] {
		return
	}
	if err := t.subscribe(roomID); err != nil {
		return
	}
	t.live[roomID] = true
}

// leave releases a viewer's slot and tears the subscription down once the
// last viewer is gone. It reports whether the room went cold so the caller
// can discard state that is only valid while viewers remain. Leaving with
// no recorded room is a no-op.
func (t *fanoutTracker) leave(roomID string) bool {
	if roomID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[roomID]--
	if t.subs[roomID] > 0 {
		return false
	}
	delete(t.subs, roomID)
	if t.live[roomID] {
		delete(t.live, roomID)
		t.unsubscribe(roomID)
	}
	return true
}

// hot reports whether the room has a live subscription on this instance.
func (t *fanoutTracker) hot(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[roomID]
}
