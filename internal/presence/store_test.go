package presence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// flushes all typing keys before returning. Tests that call this helper
// require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		for _, pattern := range []string{EntryPrefix + "test_*", IndexPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestSetAndListTyping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetTyping(ctx, "test_room", "u1", "Ana"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}
	if err := store.SetTyping(ctx, "test_room", "u2", "Bea"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}

	entries, err := store.ListTyping(ctx, "test_room")
	if err != nil {
		t.Fatalf("ListTyping() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 typing entries, got %d", len(entries))
	}
}

func TestSetTyping_RefreshIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.SetTyping(ctx, "test_room", "u1", "Ana"); err != nil {
			t.Fatalf("SetTyping() error: %v", err)
		}
	}

	entries, err := store.ListTyping(ctx, "test_room")
	if err != nil {
		t.Fatalf("ListTyping() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("repeated signals must not duplicate the entry, got %d", len(entries))
	}
}

func TestClearTyping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetTyping(ctx, "test_room", "u1", "Ana"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}
	if err := store.ClearTyping(ctx, "test_room", "u1"); err != nil {
		t.Fatalf("ClearTyping() error: %v", err)
	}

	entries, err := store.ListTyping(ctx, "test_room")
	if err != nil {
		t.Fatalf("ListTyping() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty typing set, got %v", entries)
	}
}

func TestListTyping_EmptyRoom(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.ListTyping(context.Background(), "test_empty")
	if err != nil {
		t.Fatalf("ListTyping() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries for an unknown room, got %v", entries)
	}
}
