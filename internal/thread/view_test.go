package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/domovik/resident-chat/internal/message"
	"github.com/domovik/resident-chat/internal/realtime"
	"github.com/domovik/resident-chat/internal/rooms"
)

// fakeEvents is an in-process EventSource: it records subscriptions and lets
// tests inject push events and inspect published typing signals.
type fakeEvents struct {
	mu        sync.Mutex
	handlers  map[string]func(realtime.Event) // subscriberID -> handler
	published []realtime.Event
	failSubs  int // number of SubscribeRoom calls to fail
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{handlers: make(map[string]func(realtime.Event))}
}

func (f *fakeEvents) SubscribeRoom(roomID, subscriberID string, handler func(realtime.Event)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubs > 0 {
		f.failSubs--
		return errors.New("channel dropped")
	}
	f.handlers[subscriberID] = handler
	return nil
}

func (f *fakeEvents) UnsubscribeRoom(subscriberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, subscriberID)
	return nil
}

func (f *fakeEvents) PublishTyping(ev realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ev)
	return nil
}

// push delivers an event to every subscribed handler.
func (f *fakeEvents) push(ev realtime.Event) {
	f.mu.Lock()
	handlers := make([]func(realtime.Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakeEvents) typingEvents() []realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]realtime.Event, len(f.published))
	copy(out, f.published)
	return out
}

// fakeSender assigns IDs and timestamps like the persistence service would.
type fakeSender struct {
	mu   sync.Mutex
	next int
	fail bool
}

func (f *fakeSender) SendMessage(_ context.Context, roomID, senderID, body, kind string) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return message.Message{}, errors.New("insert failed")
	}
	f.next++
	return message.Message{
		ID:        fmt.Sprintf("sent-%d", f.next),
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		Kind:      kind,
		CreatedAt: time.Unix(int64(1000+f.next), 0).UTC(),
	}, nil
}

// blockingHistory gates FetchPage responses per room so tests can hold a
// fetch in flight.
type blockingHistory struct {
	inner fakeHistory
	gates map[string]chan struct{} // roomID -> release gate
}

func (b *blockingHistory) FetchPage(ctx context.Context, roomID string, cursor *message.Cursor, limit int) ([]message.Message, string, error) {
	if gate, ok := b.gates[roomID]; ok {
		<-gate
	}
	return b.inner.FetchPage(ctx, roomID, cursor, limit)
}

func registryWith(roomIDs ...string) *rooms.Registry {
	reg := rooms.NewRegistry()
	list := make([]rooms.Room, 0, len(roomIDs))
	for _, id := range roomIDs {
		list = append(list, rooms.Room{ID: id, Kind: rooms.KindGroup, Members: []string{"local", "u2"}})
	}
	reg.Replace(list)
	return reg
}

func TestView_SetRoomLoadsAndScrolls(t *testing.T) {
	h := &fakeHistory{msgs: []message.Message{
		msg("m1", "roomA", 1),
		msg("m2", "roomA", 2),
		msg("m3", "roomA", 3),
	}}
	events := newFakeEvents()
	v := NewView("local", "Ana", registryWith("roomA"), h, &fakeSender{}, events)
	defer v.Close()

	var scrolls []ScrollAction
	v.SetOnScroll(func(a ScrollAction) { scrolls = append(scrolls, a) })

	if err := v.SetRoom(context.Background(), "roomA"); err != nil {
		t.Fatalf("SetRoom() error: %v", err)
	}

	if got := ids(v.Stream().Messages()); fmt.Sprint(got) != fmt.Sprint([]string{"m1", "m2", "m3"}) {
		t.Errorf("expected [m1 m2 m3], got %v", got)
	}
	deferred := 0
	for _, a := range scrolls {
		if a == ScrollToBottomDeferred {
			deferred++
		}
	}
	if deferred != 1 {
		t.Errorf("initial load must trigger the deferred force-scroll exactly once, got %v", scrolls)
	}
}

func TestView_SetRoomUnknownRoom(t *testing.T) {
	v := NewView("local", "Ana", registryWith("roomA"), &fakeHistory{}, &fakeSender{}, newFakeEvents())
	defer v.Close()

	if err := v.SetRoom(context.Background(), "nope"); err == nil {
		t.Error("selecting an unregistered room must fail")
	}
}

func TestView_StaleFetchDiscardedOnRoomSwitch(t *testing.T) {
	h := &blockingHistory{
		inner: fakeHistory{msgs: []message.Message{
			msg("a1", "roomA", 1),
			msg("b1", "roomB", 1),
			msg("b2", "roomB", 2),
		}},
		gates: map[string]chan struct{}{"roomA": make(chan struct{})},
	}
	events := newFakeEvents()
	v := NewView("local", "Ana", registryWith("roomA", "roomB"), h, &fakeSender{}, events)
	defer v.Close()

	// Start switching to room A; its history fetch blocks on the gate.
	done := make(chan error, 1)
	go func() { done <- v.SetRoom(context.Background(), "roomA") }()
	time.Sleep(20 * time.Millisecond) // let the fetch reach the gate

	// Switch to room B before A's fetch resolves.
	if err := v.SetRoom(context.Background(), "roomB"); err != nil {
		t.Fatalf("SetRoom(roomB) error: %v", err)
	}

	// Release A's late response and wait for the stale SetRoom to return.
	close(h.gates["roomA"])
	if err := <-done; err != nil {
		t.Fatalf("stale SetRoom(roomA) error: %v", err)
	}

	got := ids(v.Stream().Messages())
	if fmt.Sprint(got) != fmt.Sprint([]string{"b1", "b2"}) {
		t.Errorf("room A's late response must not mutate room B's messages, got %v", got)
	}
}

func TestView_PushEventAppliesAndClearsTyping(t *testing.T) {
	events := newFakeEvents()
	reg := registryWith("roomA")
	v := NewView("local", "Ana", reg, &fakeHistory{}, &fakeSender{}, events)
	defer v.Close()

	if err := v.SetRoom(context.Background(), "roomA"); err != nil {
		t.Fatal(err)
	}

	events.push(realtime.NewTypingEvent("roomA", "u2", "Bea", true))
	if got := v.TypingUsers(); len(got) != 1 {
		t.Fatalf("expected u2 typing, got %v", got)
	}

	m := msg("m1", "roomA", 1)
	m.SenderID = "u2"
	events.push(realtime.NewMessageEvent(m))

	if v.Stream().Len() != 1 {
		t.Errorf("pushed message must appear in the stream")
	}
	if got := v.TypingUsers(); len(got) != 0 {
		t.Errorf("a message from u2 must clear their typing entry, got %v", got)
	}

	// The push handler is the sync layer: it maintains the room preview.
	r, _ := reg.Get("roomA")
	if r.LastMessage == nil || r.LastMessage.SenderID != "u2" {
		t.Errorf("expected last-message summary updated, got %+v", r.LastMessage)
	}
}

func TestView_SendMessageOptimisticAndDeduped(t *testing.T) {
	events := newFakeEvents()
	v := NewView("local", "Ana", registryWith("roomA"), &fakeHistory{}, &fakeSender{}, events)
	defer v.Close()

	if err := v.SetRoom(context.Background(), "roomA"); err != nil {
		t.Fatal(err)
	}

	v.InputChanged("hello")
	sent, err := v.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if v.Stream().Len() != 1 {
		t.Error("sent message must be applied optimistically")
	}

	// The server's push of the same message de-duplicates.
	events.push(realtime.NewMessageEvent(sent))
	if v.Stream().Len() != 1 {
		t.Error("push echo of a sent message must be de-duplicated")
	}

	// Sending ends the typing burst: started then stopped.
	got := events.typingEvents()
	if len(got) != 2 || got[0].Type != realtime.EventTypingStarted || got[1].Type != realtime.EventTypingStopped {
		t.Errorf("expected [typing_started typing_stopped], got %v", got)
	}
}

func TestView_SendMessageFailure(t *testing.T) {
	sender := &fakeSender{fail: true}
	v := NewView("local", "Ana", registryWith("roomA"), &fakeHistory{}, sender, newFakeEvents())
	defer v.Close()

	if err := v.SetRoom(context.Background(), "roomA"); err != nil {
		t.Fatal(err)
	}

	_, err := v.SendMessage(context.Background(), "hello")
	if !errors.Is(err, ErrSend) {
		t.Fatalf("expected ErrSend, got %v", err)
	}
	if v.Stream().Len() != 0 {
		t.Error("failed send must not corrupt the stream")
	}
}

func TestView_SendMessageValidation(t *testing.T) {
	v := NewView("local", "Ana", registryWith("roomA"), &fakeHistory{}, &fakeSender{}, newFakeEvents())
	defer v.Close()

	if err := v.SetRoom(context.Background(), "roomA"); err != nil {
		t.Fatal(err)
	}

	if _, err := v.SendMessage(context.Background(), ""); !errors.Is(err, ErrSend) {
		t.Errorf("expected ErrSend for empty body, got %v", err)
	}
}

func TestView_SubscribeRetriesThenFails(t *testing.T) {
	events := newFakeEvents()
	events.failSubs = subscribeAttempts // every attempt fails
	v := NewView("local", "Ana", registryWith("roomA"), &fakeHistory{}, &fakeSender{}, events)
	defer v.Close()

	err := v.SetRoom(context.Background(), "roomA")
	if !errors.Is(err, ErrSubscription) {
		t.Fatalf("expected ErrSubscription after exhausted retries, got %v", err)
	}
}

func TestView_SubscribeRecoversWithinRetries(t *testing.T) {
	events := newFakeEvents()
	events.failSubs = subscribeAttempts - 1 // last attempt succeeds
	v := NewView("local", "Ana", registryWith("roomA"), &fakeHistory{}, &fakeSender{}, events)
	defer v.Close()

	if err := v.SetRoom(context.Background(), "roomA"); err != nil {
		t.Fatalf("transient subscription failures must be retried, got %v", err)
	}
}

func TestView_NoYankOnPushWhileReadingHistory(t *testing.T) {
	h := &fakeHistory{msgs: []message.Message{
		msg("m1", "roomA", 1),
		msg("m2", "roomA", 2),
		msg("m3", "roomA", 3),
	}}
	events := newFakeEvents()
	v := NewView("local", "Ana", registryWith("roomA"), h, &fakeSender{}, events)
	defer v.Close()

	var scrolls []ScrollAction
	v.SetOnScroll(func(a ScrollAction) { scrolls = append(scrolls, a) })

	if err := v.SetRoom(context.Background(), "roomA"); err != nil {
		t.Fatal(err)
	}
	scrolls = nil

	// Viewer scrolls up into history, then m4 arrives.
	v.Viewport().TrackScroll(0, 600, 5000)
	events.push(realtime.NewMessageEvent(msg("m4", "roomA", 4)))

	if v.Stream().Len() != 4 {
		t.Fatalf("expected 4 messages, got %d", v.Stream().Len())
	}
	if len(scrolls) != 0 {
		t.Errorf("push while reading history must not scroll, got %v", scrolls)
	}
}
