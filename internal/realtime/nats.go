package realtime

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject patterns for room events.
const (
	subjectRoomPrefix  = "room."
	subjectMessagePart = ".message"
	subjectTypingPart  = ".typing"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "resident-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Client wraps the NATS connection with per-room subscription management.
// Subscriptions are keyed by subscriber so multiple thread views on the same
// server can follow the same room without overwriting each other.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string][]*nats.Subscription // subscriber key -> room subscriptions
}

// Connect establishes the NATS connection and returns a ready client.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[realtime] disconnected: %v", err)
			} else {
				log.Printf("[realtime] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[realtime] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[realtime] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}

	log.Printf("[realtime] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string][]*nats.Subscription),
	}, nil
}

// SubscribeRoom subscribes a subscriber to both subjects of a room. The
// handler receives every decoded event for the room; undecodable payloads
// are logged and dropped. Any previous room subscription held by the same
// subscriber is released first, so a room switch is a single call.
func (c *Client) SubscribeRoom(roomID, subscriberID string, handler func(Event)) error {
	if err := c.UnsubscribeRoom(subscriberID); err != nil {
		return err
	}

	natsHandler := func(msg *nats.Msg) {
		ev, err := Decode(msg.Data)
		if err != nil {
			log.Printf("[realtime] drop bad event on %s: %v", msg.Subject, err)
			return
		}
		handler(ev)
	}

	var subs []*nats.Subscription
	for _, subject := range []string{MessageSubject(roomID), TypingSubject(roomID)} {
		sub, err := c.conn.Subscribe(subject, natsHandler)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("realtime: subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	c.mu.Lock()
	c.subs[subscriberID] = subs
	c.mu.Unlock()
	return nil
}

// UnsubscribeRoom releases a subscriber's room subscriptions. Unsubscribing
// a subscriber with no active subscription is a no-op.
func (c *Client) UnsubscribeRoom(subscriberID string) error {
	c.mu.Lock()
	subs, ok := c.subs[subscriberID]
	if ok {
		delete(c.subs, subscriberID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("realtime: unsubscribe: %w", err)
		}
	}
	return nil
}

// PublishMessage publishes a message_created event to the room's message
// subject.
func (c *Client) PublishMessage(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return c.conn.Publish(MessageSubject(ev.RoomID), data)
}

// PublishTyping publishes a typing event to the room's typing subject.
func (c *Client) PublishTyping(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return c.conn.Publish(TypingSubject(ev.RoomID), data)
}

// MessageSubject returns the NATS subject carrying new messages for a room.
func MessageSubject(roomID string) string {
	return subjectRoomPrefix + roomID + subjectMessagePart
}

// TypingSubject returns the NATS subject carrying typing events for a room.
func TypingSubject(roomID string) string {
	return subjectRoomPrefix + roomID + subjectTypingPart
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, subs := range c.subs {
		for _, sub := range subs {
			if err := sub.Drain(); err != nil {
				log.Printf("[realtime] drain %s: %v", key, err)
			}
		}
	}
	c.subs = make(map[string][]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[realtime] connection drain: %v", err)
	}

	log.Printf("[realtime] client closed")
}
