package thread

import (
	"sync"
	"testing"
	"time"
)

// signalRecorder collects local typing transitions from concurrent timer
// callbacks.
type signalRecorder struct {
	mu      sync.Mutex
	signals []bool
}

func (r *signalRecorder) record(isTyping bool) {
	r.mu.Lock()
	r.signals = append(r.signals, isTyping)
	r.mu.Unlock()
}

func (r *signalRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.signals))
	copy(out, r.signals)
	return out
}

func TestTyping_BurstEmitsStartedOnce(t *testing.T) {
	rec := &signalRecorder{}
	tr := NewTypingTracker("local", rec.record)
	tr.SetTimeouts(time.Hour, 0) // timer must not fire during the test

	tr.InputChanged("h")
	tr.InputChanged("he")
	tr.InputChanged("hello")

	got := rec.get()
	if len(got) != 1 || !got[0] {
		t.Errorf("expected exactly one started signal for a burst, got %v", got)
	}
	if !tr.LocalTyping() {
		t.Error("expected local state to be typing during the burst")
	}
}

func TestTyping_InactivityEmitsStoppedOnce(t *testing.T) {
	rec := &signalRecorder{}
	tr := NewTypingTracker("local", rec.record)
	tr.SetTimeouts(40*time.Millisecond, 0)

	tr.InputChanged("h")
	tr.InputChanged("he")
	tr.InputChanged("hello")

	time.Sleep(120 * time.Millisecond)

	got := rec.get()
	want := []bool{true, false}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected exactly one started then one stopped, got %v", got)
	}
	if tr.LocalTyping() {
		t.Error("expected local state back to idle after inactivity")
	}
}

func TestTyping_KeystrokeRearmsTimer(t *testing.T) {
	rec := &signalRecorder{}
	tr := NewTypingTracker("local", rec.record)
	tr.SetTimeouts(60*time.Millisecond, 0)

	tr.InputChanged("h")
	time.Sleep(40 * time.Millisecond)
	tr.InputChanged("he") // re-arms before expiry
	time.Sleep(40 * time.Millisecond)

	if got := rec.get(); len(got) != 1 {
		t.Errorf("timer must re-arm on keystrokes within the gap, got %v", got)
	}
}

func TestTyping_EmptyInputStops(t *testing.T) {
	rec := &signalRecorder{}
	tr := NewTypingTracker("local", rec.record)
	tr.SetTimeouts(time.Hour, 0)

	tr.InputChanged("hello")
	tr.InputChanged("")
	tr.InputChanged("") // redundant: no second stopped signal

	got := rec.get()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("expected [started stopped], got %v", got)
	}
}

func TestTyping_MessageSentStops(t *testing.T) {
	rec := &signalRecorder{}
	tr := NewTypingTracker("local", rec.record)
	tr.SetTimeouts(time.Hour, 0)

	tr.InputChanged("hello")
	tr.MessageSent()
	tr.MessageSent() // idle: no extra signal

	got := rec.get()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("expected [started stopped], got %v", got)
	}
}

func TestTyping_ResetIsSilent(t *testing.T) {
	rec := &signalRecorder{}
	tr := NewTypingTracker("local", rec.record)
	tr.SetTimeouts(30*time.Millisecond, 0)

	tr.InputChanged("hello")
	tr.Reset()

	time.Sleep(80 * time.Millisecond)

	// Reset during a burst must not emit stopped, and the cancelled timer
	// must not fire one later either.
	got := rec.get()
	if len(got) != 1 || !got[0] {
		t.Errorf("expected only the started signal, got %v", got)
	}
}

func TestTyping_RemoteSetExcludesLocalUser(t *testing.T) {
	tr := NewTypingTracker("local", nil)

	tr.RemoteStarted("local", "Me")
	tr.RemoteStarted("u2", "Bea")

	got := tr.Typing()
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Errorf("typing set must never include the local user, got %v", got)
	}
}

func TestTyping_RemoteStartedIdempotent(t *testing.T) {
	tr := NewTypingTracker("local", nil)

	tr.RemoteStarted("u2", "Bea")
	tr.RemoteStarted("u2", "Bea")
	tr.RemoteStarted("u2", "Bea")

	if got := tr.Typing(); len(got) != 1 {
		t.Errorf("a user appears at most once in the typing set, got %v", got)
	}
}

func TestTyping_RemoteStoppedRemoves(t *testing.T) {
	tr := NewTypingTracker("local", nil)

	tr.RemoteStarted("u2", "Bea")
	tr.RemoteStopped("u2")

	if got := tr.Typing(); len(got) != 0 {
		t.Errorf("expected empty typing set, got %v", got)
	}
}

func TestTyping_MessageArrivalClearsEntry(t *testing.T) {
	tr := NewTypingTracker("local", nil)

	tr.RemoteStarted("u2", "Bea")
	tr.MessageArrived("u2") // no explicit stopped signal received

	if got := tr.Typing(); len(got) != 0 {
		t.Errorf("a message from a user must clear their typing entry, got %v", got)
	}
}

func TestTyping_StaleEntriesEvicted(t *testing.T) {
	tr := NewTypingTracker("local", nil)

	now := time.Unix(1000, 0)
	tr.setClock(func() time.Time { return now })

	tr.RemoteStarted("u2", "Bea")
	tr.RemoteStarted("u3", "Cal")

	// u3 refreshes, u2 goes silent past the staleness bound (lost stopped
	// signal).
	now = now.Add(5 * time.Second)
	tr.RemoteStarted("u3", "Cal")
	now = now.Add(3 * time.Second)

	got := tr.Typing()
	if len(got) != 1 || got[0].UserID != "u3" {
		t.Errorf("expected stale u2 evicted and fresh u3 kept, got %v", got)
	}
}
