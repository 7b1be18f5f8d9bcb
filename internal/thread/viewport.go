package thread

import "sync"

// Scroll tolerances in pixels. Two distinct thresholds gate two distinct
// decisions and are deliberately not unified: the tighter one drives the
// passive "is the viewer near the bottom" tracking (e.g. whether to show a
// new-messages pill), the looser one decides whether a new message may
// auto-scroll the view.
const (
	NearBottomTrackPx = 150
	AutoScrollPx      = 200
)

// ScrollAction is the viewport decision for a message-set mutation.
type ScrollAction int

const (
	// ScrollNone leaves the scroll position to the viewer.
	ScrollNone ScrollAction = iota

	// ScrollToBottom snaps the viewport to the newest message.
	ScrollToBottom

	// ScrollToBottomDeferred snaps to the newest message after a short
	// delay so layout can settle. Used for the first load of a room.
	ScrollToBottomDeferred
)

// Viewport decides, on every message-count change, whether the view should
// follow the newest message. It never yanks a viewer who scrolled up into
// history, and it re-anchors to the bottom on first load and on
// repopulation after the viewer was already at the bottom.
//
// A Viewport belongs to one thread view and must be Reset on room switch so
// stale bookkeeping cannot suppress or wrongly trigger a scroll in the new
// room.
//
// Safe for concurrent use: scroll observations arrive from the host while
// count changes arrive on the push-delivery goroutine.
type Viewport struct {
	mu               sync.Mutex
	nearBottomTight  bool // within NearBottomTrackPx of the bottom
	nearBottomLoose  bool // within AutoScrollPx of the bottom
	didInitialScroll bool
	prevCount        int
}

// NewViewport creates a viewport in its freshly-reset state.
func NewViewport() *Viewport {
	v := &Viewport{}
	v.Reset()
	return v
}

// Reset clears all per-room bookkeeping. A fresh viewport counts as "at the
// bottom": the first load path force-scrolls regardless, and a repopulation
// right after a reset should behave like a first load.
func (v *Viewport) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nearBottomTight = true
	v.nearBottomLoose = true
	v.didInitialScroll = false
	v.prevCount = 0
}

// TrackScroll records a scroll observation. scrollTop is the current offset,
// viewportHeight the visible height, contentHeight the full scrollable
// height. Near-bottom is scrollTop+viewportHeight >= contentHeight-tolerance,
// evaluated against both tolerances.
func (v *Viewport) TrackScroll(scrollTop, viewportHeight, contentHeight float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nearBottomTight = scrollTop+viewportHeight >= contentHeight-NearBottomTrackPx
	v.nearBottomLoose = scrollTop+viewportHeight >= contentHeight-AutoScrollPx
}

// NearBottom reports the passively tracked near-bottom state (tight
// tolerance).
func (v *Viewport) NearBottom() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nearBottomTight
}

// OnCountChange consumes a message-count notification and returns the
// scroll decision.
func (v *Viewport) OnCountChange(count int) ScrollAction {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.prevCount
	v.prevCount = count

	if count == 0 {
		return ScrollNone
	}

	// First non-empty population force-scrolls once, deferred so layout can
	// settle.
	if !v.didInitialScroll {
		v.didInitialScroll = true
		return ScrollToBottomDeferred
	}

	// Emptied-then-repopulated (room content reload): behave like a first
	// load only if the viewer had been at the bottom beforehand.
	if prev == 0 {
		if v.nearBottomLoose {
			return ScrollToBottomDeferred
		}
		return ScrollNone
	}

	if count > prev {
		if v.nearBottomLoose {
			return ScrollToBottom
		}
		return ScrollNone
	}

	return ScrollNone
}
