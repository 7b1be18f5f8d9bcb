package thread

import (
	"sort"
	"sync"
	"time"
)

// Typing-presence timing bounds.
const (
	// DefaultInactivityTimeout is how long after the last local keystroke
	// the "stopped typing" signal fires.
	DefaultInactivityTimeout = 4 * time.Second

	// DefaultStaleness is the age past which a remote typing entry is
	// evicted even without an explicit "stopped" signal. Explicit stops can
	// be lost (at-least-once transport, disconnects), so presence must not
	// rely on them alone.
	DefaultStaleness = 7 * time.Second
)

// TypingUser is one entry of the visible "who is typing" set.
type TypingUser struct {
	UserID string
	Name   string
}

// typingEntry tracks a remote user's typing liveness.
type typingEntry struct {
	name       string
	lastSignal time.Time
}

// TypingTracker runs the idle -> typing -> idle state machine for the local
// user and maintains the remote typing set for the active room. Local
// transitions are reported through the signal callback exactly once per
// burst; remote signals are applied idempotently and expire via the
// staleness bound. The visible set never includes the local user.
type TypingTracker struct {
	mu         sync.Mutex
	localUser  string
	inactivity time.Duration
	staleness  time.Duration
	now        func() time.Time

	localTyping bool
	timer       *time.Timer
	remote      map[string]typingEntry

	signal func(isTyping bool) // local transition observer, called outside the lock
}

// NewTypingTracker creates a tracker for the given local user. The signal
// callback receives the local started/stopped transitions; it may be nil.
func NewTypingTracker(localUser string, signal func(isTyping bool)) *TypingTracker {
	return &TypingTracker{
		localUser:  localUser,
		inactivity: DefaultInactivityTimeout,
		staleness:  DefaultStaleness,
		now:        time.Now,
		remote:     make(map[string]typingEntry),
		signal:     signal,
	}
}

// SetTimeouts overrides the inactivity and staleness bounds. Zero values
// keep the current setting. Used by tests and by hosts with different UX
// requirements.
func (t *TypingTracker) SetTimeouts(inactivity, staleness time.Duration) {
	t.mu.Lock()
	if inactivity > 0 {
		t.inactivity = inactivity
	}
	if staleness > 0 {
		t.staleness = staleness
	}
	t.mu.Unlock()
}

// InputChanged processes a local input mutation. Non-empty input starts a
// typing burst (emitting "started" only on the idle->typing edge) and
// re-arms the inactivity timer on every call. Empty input ends the burst
// immediately.
func (t *TypingTracker) InputChanged(text string) {
	if text == "" {
		t.stopLocal()
		return
	}

	t.mu.Lock()
	started := !t.localTyping
	t.localTyping = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.inactivity, t.stopLocal)
	fn := t.signal
	t.mu.Unlock()

	if started && fn != nil {
		fn(true)
	}
}

// MessageSent ends the local typing burst; sending a message always means
// the user is done composing.
func (t *TypingTracker) MessageSent() {
	t.stopLocal()
}

// stopLocal transitions the local state machine back to idle, emitting
// "stopped" only when a burst was actually active so the signal fires
// exactly once.
func (t *TypingTracker) stopLocal() {
	t.mu.Lock()
	wasTyping := t.localTyping
	t.localTyping = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	fn := t.signal
	t.mu.Unlock()

	if wasTyping && fn != nil {
		fn(false)
	}
}

// LocalTyping reports whether a local burst is active.
func (t *TypingTracker) LocalTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localTyping
}

// RemoteStarted records a "started typing" signal from another user. It is
// idempotent: repeated signals refresh the liveness timestamp. Signals for
// the local user are ignored — the visible set never contains them.
func (t *TypingTracker) RemoteStarted(userID, name string) {
	if userID == "" || userID == t.localUser {
		return
	}
	t.mu.Lock()
	t.remote[userID] = typingEntry{name: name, lastSignal: t.now()}
	t.mu.Unlock()
}

// RemoteStopped removes a user from the typing set.
func (t *TypingTracker) RemoteStopped(userID string) {
	t.mu.Lock()
	delete(t.remote, userID)
	t.mu.Unlock()
}

// MessageArrived clears the sender's typing entry regardless of signal
// state: a user who just sent a message is by definition no longer typing.
func (t *TypingTracker) MessageArrived(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	delete(t.remote, userID)
	t.mu.Unlock()
}

// Typing returns the visible typing set, evicting stale entries first.
// Entries are ordered by user ID for stable rendering.
func (t *TypingTracker) Typing() []TypingUser {
	now := t.now()

	t.mu.Lock()
	for id, e := range t.remote {
		if now.Sub(e.lastSignal) > t.staleness {
			delete(t.remote, id)
		}
	}
	out := make([]TypingUser, 0, len(t.remote))
	for id, e := range t.remote {
		out = append(out, TypingUser{UserID: id, Name: e.name})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Reset clears all typing state without emitting signals. Called on room
// switch and unmount so a pending inactivity timer cannot leak a "stopped"
// signal for a view that is gone.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	t.localTyping = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.remote = make(map[string]typingEntry)
	t.mu.Unlock()
}

// setClock replaces the time source for tests.
func (t *TypingTracker) setClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}
