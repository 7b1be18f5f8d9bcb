package thread

import (
	"sync"
	"testing"
)

func TestViewport_InitialLoadForcesBottomOnce(t *testing.T) {
	v := NewViewport()

	if got := v.OnCountChange(3); got != ScrollToBottomDeferred {
		t.Errorf("first non-empty load must force-scroll (deferred), got %v", got)
	}

	// A second notification at the same count is not an initial load.
	if got := v.OnCountChange(3); got != ScrollNone {
		t.Errorf("unchanged count must not scroll, got %v", got)
	}
}

func TestViewport_EmptyLoadDoesNothing(t *testing.T) {
	v := NewViewport()

	if got := v.OnCountChange(0); got != ScrollNone {
		t.Errorf("empty room must not scroll, got %v", got)
	}
	// The initial force-scroll is still pending for the first real content.
	if got := v.OnCountChange(2); got != ScrollToBottomDeferred {
		t.Errorf("first non-empty population must force-scroll, got %v", got)
	}
}

func TestViewport_NewMessageAutoScrollsWhenNearBottom(t *testing.T) {
	v := NewViewport()
	v.OnCountChange(3)

	// 180px from the bottom: outside the tight tracking tolerance but
	// inside the auto-scroll tolerance.
	v.TrackScroll(0, 600, 780)
	if v.NearBottom() {
		t.Error("180px out is beyond the 150px tracking tolerance")
	}

	if got := v.OnCountChange(4); got != ScrollToBottom {
		t.Errorf("new message within 200px of bottom must auto-scroll, got %v", got)
	}
}

func TestViewport_NoYankWhenReadingHistory(t *testing.T) {
	v := NewViewport()
	v.OnCountChange(3)

	// Scrolled far up into history.
	v.TrackScroll(0, 600, 5000)

	if got := v.OnCountChange(4); got != ScrollNone {
		t.Errorf("new message must not yank a viewer reading history, got %v", got)
	}
}

func TestViewport_AtBottomExactly(t *testing.T) {
	v := NewViewport()
	v.OnCountChange(1)

	v.TrackScroll(400, 600, 1000)
	if !v.NearBottom() {
		t.Error("pinned to the bottom must count as near bottom")
	}
	if got := v.OnCountChange(2); got != ScrollToBottom {
		t.Errorf("expected auto-scroll at the bottom, got %v", got)
	}
}

func TestViewport_RepopulateAfterEmptyFollowsBottomState(t *testing.T) {
	v := NewViewport()
	v.OnCountChange(5)

	// At the bottom, then the content reloads (count drops to zero and
	// repopulates): behaves like a first load.
	v.TrackScroll(400, 600, 1000)
	v.OnCountChange(0)
	if got := v.OnCountChange(5); got != ScrollToBottomDeferred {
		t.Errorf("repopulation with viewer at bottom must force-scroll, got %v", got)
	}

	// Away from the bottom, the same sequence leaves the position alone.
	v.TrackScroll(0, 600, 5000)
	v.OnCountChange(0)
	if got := v.OnCountChange(5); got != ScrollNone {
		t.Errorf("repopulation with viewer in history must not scroll, got %v", got)
	}
}

func TestViewport_ResetClearsBookkeeping(t *testing.T) {
	v := NewViewport()
	v.OnCountChange(10)
	v.TrackScroll(0, 600, 5000) // deep in history

	// Room switch: stale state must neither suppress the new room's initial
	// scroll nor leak the old room's count.
	v.Reset()

	if got := v.OnCountChange(3); got != ScrollToBottomDeferred {
		t.Errorf("after reset the next population is an initial load, got %v", got)
	}
}

func TestViewport_CountDecreaseDoesNotScroll(t *testing.T) {
	v := NewViewport()
	v.OnCountChange(5)
	v.TrackScroll(400, 600, 1000)

	if got := v.OnCountChange(3); got != ScrollNone {
		t.Errorf("count decrease must not scroll, got %v", got)
	}
}

func TestViewport_ConcurrentScrollAndCountChange(t *testing.T) {
	v := NewViewport()
	v.OnCountChange(1)

	// Scroll observations come from the host while count changes arrive on
	// the push-delivery goroutine. Run under -race.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			v.TrackScroll(float64(i), 600, 5000)
			v.NearBottom()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 2; i < 1002; i++ {
			v.OnCountChange(i)
		}
	}()
	wg.Wait()

	// The viewer ends deep in history, so the next message must not yank.
	if got := v.OnCountChange(2000); got != ScrollNone {
		t.Errorf("new message while reading history must not scroll, got %v", got)
	}
}
