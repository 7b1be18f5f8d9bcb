package thread

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/domovik/resident-chat/internal/message"
	"github.com/domovik/resident-chat/internal/realtime"
	"github.com/domovik/resident-chat/internal/rooms"
)

// Sender persists a new message and returns it as stored (ID and timestamp
// are assigned by the service, not the view).
type Sender interface {
	SendMessage(ctx context.Context, roomID, senderID, body, kind string) (message.Message, error)
}

// EventSource is the real-time push channel for room events. Delivery is
// at-least-once with no ordering guarantee across reconnects; the view
// tolerates duplicates and out-of-order events.
type EventSource interface {
	SubscribeRoom(roomID, subscriberID string, handler func(realtime.Event)) error
	UnsubscribeRoom(subscriberID string) error
	PublishTyping(ev realtime.Event) error
}

// subscribeAttempts is how many times a failed room subscription is retried
// before the failure surfaces to the caller.
const subscribeAttempts = 3

// View is one thread view: the composition of the message stream, the
// typing tracker, the viewport controller and the room registry for a
// single active room. It owns its stream and typing state exclusively; the
// registry is shared (views read, the sync layer writes).
type View struct {
	id       string // subscriber key for the event source
	userID   string
	userName string

	registry *rooms.Registry
	stream   *Stream
	typing   *TypingTracker
	viewport *Viewport

	sender Sender
	events EventSource

	// generation invalidates in-flight work when the room changes. A fetch
	// or push handler started under an older generation discards its result
	// instead of applying it to the new room's state.
	generation atomic.Int64

	onScroll func(ScrollAction) // scroll decision observer, may be nil
}

// NewView creates a thread view for the given local user. Pre-fetched
// messages, if any, are applied via SetRoom's initial load path.
func NewView(userID, userName string, registry *rooms.Registry, history History, sender Sender, events EventSource) *View {
	v := &View{
		id:       uuid.New().String(),
		userID:   userID,
		userName: userName,
		registry: registry,
		stream:   NewStream(history, message.DefaultPageSize),
		viewport: NewViewport(),
		sender:   sender,
		events:   events,
	}
	v.typing = NewTypingTracker(userID, v.publishTyping)
	v.stream.SetOnCountChange(v.countChanged)
	return v
}

// SetOnScroll registers the observer that applies scroll decisions to the
// hosting surface.
func (v *View) SetOnScroll(fn func(ScrollAction)) {
	v.onScroll = fn
}

// Stream exposes the message sequence for rendering and pagination.
func (v *View) Stream() *Stream { return v.stream }

// Viewport exposes the scroll controller so the host can feed it scroll
// observations via TrackScroll.
func (v *View) Viewport() *Viewport { return v.viewport }

// TypingUsers returns the visible "who is typing" set for the active room.
func (v *View) TypingUsers() []TypingUser { return v.typing.Typing() }

// SetRoom switches the view to a room: selects it in the registry, resets
// all per-room state, resubscribes the event source, and loads the initial
// history page. A room switch invalidates any in-flight load for the
// previous room — its late response is discarded, never applied to the new
// room's state.
func (v *View) SetRoom(ctx context.Context, roomID string) error {
	if !v.registry.Select(roomID) {
		return fmt.Errorf("thread: unknown room %s", roomID)
	}

	gen := v.generation.Add(1)
	v.viewport.Reset()
	v.typing.Reset()
	v.stream.Reset(roomID)

	if err := v.subscribe(roomID, gen); err != nil {
		return err
	}

	page, _, err := v.stream.history.FetchPage(ctx, roomID, nil, v.stream.pageSize)
	if err != nil {
		return fmt.Errorf("%w: initial page for room %s: %v", ErrFetch, roomID, err)
	}
	v.applyInitial(gen, roomID, page)
	return nil
}

// applyInitial installs a fetched history page unless the view has moved on
// to another room since the fetch started.
func (v *View) applyInitial(gen int64, roomID string, page []message.Message) {
	if v.generation.Load() != gen {
		log.Printf("thread: discarding stale history response for room %s", roomID)
		return
	}
	v.stream.applyInitialPage(roomID, page)
}

// subscribe attaches the event handler for a room, retrying transient
// subscription failures before surfacing ErrSubscription.
func (v *View) subscribe(roomID string, gen int64) error {
	handler := func(ev realtime.Event) {
		v.handleEvent(gen, ev)
	}

	var err error
	for attempt := 1; attempt <= subscribeAttempts; attempt++ {
		if err = v.events.SubscribeRoom(roomID, v.id, handler); err == nil {
			return nil
		}
		log.Printf("thread: subscribe room %s attempt %d/%d failed: %v",
			roomID, attempt, subscribeAttempts, err)
	}
	return fmt.Errorf("%w: room %s: %v", ErrSubscription, roomID, err)
}

// handleEvent applies a push event. Events delivered under a stale
// generation (the unsubscribe for a room switch raced a late delivery) are
// dropped.
func (v *View) handleEvent(gen int64, ev realtime.Event) {
	if v.generation.Load() != gen {
		return
	}

	switch ev.Type {
	case realtime.EventMessageCreated:
		if ev.Message == nil {
			return
		}
		m := *ev.Message
		// An inbound message clears its sender's typing entry even when no
		// explicit stopped signal was delivered.
		v.typing.MessageArrived(m.SenderID)
		v.stream.OnPush(m)
		if m.SenderID != "" {
			v.registry.TouchLastMessage(m.RoomID, rooms.LastMessage{
				Body:     m.Body,
				SenderID: m.SenderID,
				SentAt:   m.CreatedAt,
			})
		}

	case realtime.EventTypingStarted:
		v.typing.RemoteStarted(ev.UserID, ev.Name)

	case realtime.EventTypingStopped:
		v.typing.RemoteStopped(ev.UserID)

	default:
		log.Printf("thread: ignoring event type %q for room %s", ev.Type, ev.RoomID)
	}
}

// InputChanged forwards a local composer mutation to the typing tracker;
// the resulting started/stopped transitions publish typing events for the
// active room.
func (v *View) InputChanged(text string) {
	v.typing.InputChanged(text)
}

// SendMessage validates and sends a message to the active room, ends the
// local typing burst, and applies the persisted message optimistically (the
// later push event de-duplicates against it). On failure the composed body
// stays with the caller for retry and the error wraps ErrSend.
func (v *View) SendMessage(ctx context.Context, body string) (message.Message, error) {
	roomID := v.registry.Selected()
	if roomID == "" {
		return message.Message{}, fmt.Errorf("%w: no room selected", ErrSend)
	}
	if err := message.Validate(body); err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", ErrSend, err)
	}

	sent, err := v.sender.SendMessage(ctx, roomID, v.userID, body, message.KindText)
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", ErrSend, err)
	}

	v.typing.MessageSent()
	v.stream.OnPush(sent)
	return sent, nil
}

// Close detaches the view: unsubscribes the event source and silences the
// typing tracker so no timer fires a signal for a view that is gone.
func (v *View) Close() {
	v.generation.Add(1)
	v.typing.Reset()
	if err := v.events.UnsubscribeRoom(v.id); err != nil {
		log.Printf("thread: unsubscribe on close: %v", err)
	}
}

// countChanged is the stream's count observer; it routes the viewport's
// decision to the scroll observer.
func (v *View) countChanged(count int) {
	action := v.viewport.OnCountChange(count)
	if action != ScrollNone && v.onScroll != nil {
		v.onScroll(action)
	}
}

// publishTyping is the typing tracker's local-transition signal. It
// publishes the started/stopped event for the active room; publish failures
// are logged, never surfaced — presence is best-effort.
func (v *View) publishTyping(isTyping bool) {
	roomID := v.registry.Selected()
	if roomID == "" {
		return
	}
	ev := realtime.NewTypingEvent(roomID, v.userID, v.userName, isTyping)
	if err := v.events.PublishTyping(ev); err != nil {
		log.Printf("thread: publish typing room=%s: %v", roomID, err)
	}
}
