// Package thread implements the thread-view synchronization engine: an
// ordered, de-duplicated message stream merged from history pages and live
// push events, a typing-presence state machine, and a scroll/viewport
// controller that decides when the view follows the newest message.
//
// All state in this package is owned by a single thread view; collaborating
// services (history, send, real-time events) are injected as interfaces.
package thread

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/domovik/resident-chat/internal/message"
)

// History fetches pages of a room's message history. Implemented by
// message.Store; a nil cursor means "the newest page".
type History interface {
	FetchPage(ctx context.Context, roomID string, cursor *message.Cursor, limit int) ([]message.Message, string, error)
}

// Stream merges two message sources — paginated history and live push —
// into one ordered, duplicate-free sequence for a single room. Ordering is
// by (CreatedAt, ID); pushes arriving out of order are inserted at the
// position the key dictates, not blindly appended.
type Stream struct {
	mu        sync.Mutex
	roomID    string
	history   History
	pageSize  int
	msgs      []message.Message
	seen      map[string]struct{} // message IDs present in msgs
	exhausted bool                // no older history remains

	onCountChange func(count int) // invoked outside the lock after the count changes
}

// NewStream creates a stream backed by the given history source.
func NewStream(history History, pageSize int) *Stream {
	if pageSize <= 0 {
		pageSize = message.DefaultPageSize
	}
	return &Stream{
		history:  history,
		pageSize: pageSize,
		seen:     make(map[string]struct{}),
	}
}

// SetOnCountChange registers the observer notified whenever the message
// count changes. The scroll controller consumes this.
func (s *Stream) SetOnCountChange(fn func(count int)) {
	s.mu.Lock()
	s.onCountChange = fn
	s.mu.Unlock()
}

// Reset clears the sequence and rebinds the stream to a room. Called on
// room switch so no state leaks between rooms.
func (s *Stream) Reset(roomID string) {
	s.mu.Lock()
	changed := len(s.msgs) != 0
	s.roomID = roomID
	s.msgs = nil
	s.seen = make(map[string]struct{})
	s.exhausted = false
	fn := s.onCountChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn(0)
	}
}

// RoomID returns the room the stream is currently bound to.
func (s *Stream) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// LoadInitial fetches the most recent history page and replaces the
// sequence with it. On transport failure the previous state is left
// untouched (stale but valid) and the error wraps ErrFetch; re-invoking
// retries.
func (s *Stream) LoadInitial(ctx context.Context, roomID string) ([]message.Message, error) {
	page, _, err := s.history.FetchPage(ctx, roomID, nil, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: initial page for room %s: %v", ErrFetch, roomID, err)
	}
	s.applyInitialPage(roomID, page)
	return s.snapshot(), nil
}

// LoadOlder fetches the page preceding beforeID and prepends it. Existing
// entries are never reordered or duplicated, so calling it twice with the
// same cursor is idempotent. beforeID must be a loaded message; the usual
// caller passes the oldest visible message when the user scrolls to the top.
func (s *Stream) LoadOlder(ctx context.Context, beforeID string) error {
	s.mu.Lock()
	if s.exhausted {
		s.mu.Unlock()
		return nil
	}
	var cursor *message.Cursor
	for _, m := range s.msgs {
		if m.ID == beforeID {
			cursor = &message.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
			break
		}
	}
	roomID := s.roomID
	s.mu.Unlock()

	if cursor == nil {
		return fmt.Errorf("%w: unknown pagination anchor %s", ErrFetch, beforeID)
	}

	page, _, err := s.history.FetchPage(ctx, roomID, cursor, s.pageSize)
	if err != nil {
		return fmt.Errorf("%w: older page for room %s: %v", ErrFetch, roomID, err)
	}

	s.mu.Lock()
	if s.roomID != roomID {
		// The stream was rebound while the fetch was in flight.
		s.mu.Unlock()
		return nil
	}
	if len(page) < s.pageSize {
		s.exhausted = true
	}
	inserted := 0
	for _, m := range page {
		if s.insertLocked(m) {
			inserted++
		}
	}
	count := len(s.msgs)
	fn := s.onCountChange
	s.mu.Unlock()

	if inserted > 0 && fn != nil {
		fn(count)
	}
	return nil
}

// applyInitialPage installs a fetched first page as the whole sequence,
// emitting a single count notification. Used by the view, which performs
// the fetch itself so a room switch can invalidate it.
func (s *Stream) applyInitialPage(roomID string, page []message.Message) {
	s.mu.Lock()
	s.roomID = roomID
	s.msgs = nil
	s.seen = make(map[string]struct{})
	s.exhausted = len(page) < s.pageSize
	for _, m := range page {
		s.insertLocked(m)
	}
	count := len(s.msgs)
	fn := s.onCountChange
	s.mu.Unlock()

	if fn != nil {
		fn(count)
	}
}

// OnPush applies a live message event. Duplicates (by ID) are ignored.
// Messages for a different room than the stream is bound to are dropped —
// that happens when an unsubscribe races a late push.
func (s *Stream) OnPush(m message.Message) {
	s.mu.Lock()
	if s.roomID == "" || m.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	inserted := s.insertLocked(m)
	count := len(s.msgs)
	fn := s.onCountChange
	s.mu.Unlock()

	if inserted && fn != nil {
		fn(count)
	}
}

// Messages returns an ordered snapshot of the sequence.
func (s *Stream) Messages() []message.Message {
	return s.snapshot()
}

// Len returns the current message count.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Oldest returns the first message of the sequence, or false when empty.
// It is the pagination anchor for LoadOlder.
func (s *Stream) Oldest() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return message.Message{}, false
	}
	return s.msgs[0], true
}

// insertLocked places m at the position dictated by the ordering key.
// Returns false for duplicates. In the common case live events are newer
// than everything loaded, so the insertion point is the end; the search
// keeps out-of-order delivery correct without assuming append-only.
func (s *Stream) insertLocked(m message.Message) bool {
	if _, dup := s.seen[m.ID]; dup {
		return false
	}
	s.seen[m.ID] = struct{}{}

	i := sort.Search(len(s.msgs), func(i int) bool {
		return m.Less(s.msgs[i])
	})
	s.msgs = append(s.msgs, message.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m

	if i != len(s.msgs)-1 {
		log.Printf("thread: out-of-order message %s inserted at %d/%d in room %s",
			m.ID, i, len(s.msgs), s.roomID)
	}
	return true
}

func (s *Stream) snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
