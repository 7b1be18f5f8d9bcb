package rooms

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/domovik/resident-chat/internal/db"
)

// newTestStore connects to a local PostgreSQL instance, applying migrations
// on the way in. Tests that call this helper skip when no database is
// reachable. Rows created by a test are removed by registering their IDs
// with the returned cleanup func.
func newTestStore(t *testing.T) (*Store, *sql.DB, func(roomIDs ...string)) {
	t.Helper()

	config := db.DefaultConfig()
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		config.DSN = dsn
	}
	config.MigrationsPath = "../../migrations"

	pg, err := db.Open(config)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pg.Close() })

	cleanup := func(roomIDs ...string) {
		t.Cleanup(func() {
			ctx := context.Background()
			for _, id := range roomIDs {
				pg.ExecContext(ctx, `DELETE FROM messages WHERE room_id = $1`, id)
				pg.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id)
			}
		})
	}
	return NewStore(pg), pg, cleanup
}

func TestCreateDirect_StablePair(t *testing.T) {
	store, _, cleanup := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateDirect(ctx, "test_user_b", "test_user_a")
	if err != nil {
		t.Fatalf("CreateDirect() error: %v", err)
	}
	cleanup(first.ID)

	// The reversed pair must resolve to the same room.
	second, err := store.CreateDirect(ctx, "test_user_a", "test_user_b")
	if err != nil {
		t.Fatalf("CreateDirect() second call error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same room for reversed pair, got %s and %s", first.ID, second.ID)
	}
	if second.Kind != KindDirect {
		t.Errorf("expected kind %q, got %q", KindDirect, second.Kind)
	}
	if len(second.Members) != 2 || second.Members[0] != "test_user_a" || second.Members[1] != "test_user_b" {
		t.Errorf("expected sorted members, got %v", second.Members)
	}
}

func TestCreateGroup_AndList(t *testing.T) {
	store, _, cleanup := newTestStore(t)
	ctx := context.Background()

	members := []string{"test_g_one", "test_g_two", "test_g_three"}
	room, err := store.CreateGroup(ctx, members, "Building A")
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	cleanup(room.ID)

	if room.Kind != KindGroup {
		t.Errorf("expected kind %q, got %q", KindGroup, room.Kind)
	}

	listed, err := store.ListRooms(ctx, "test_g_two")
	if err != nil {
		t.Fatalf("ListRooms() error: %v", err)
	}
	found := false
	for _, r := range listed {
		if r.ID == room.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected room %s in test_g_two's list", room.ID)
	}
}

func TestCreateGroup_TooFewMembers(t *testing.T) {
	store, _, _ := newTestStore(t)

	if _, err := store.CreateGroup(context.Background(), []string{"test_solo"}, "too small"); err == nil {
		t.Fatal("expected error for single-member group, got nil")
	}
}

func TestTouchLastMessage(t *testing.T) {
	store, _, cleanup := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateDirect(ctx, "test_touch_a", "test_touch_b")
	if err != nil {
		t.Fatalf("CreateDirect() error: %v", err)
	}
	cleanup(room.ID)

	sentAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.TouchLastMessage(ctx, room.ID, "test_touch_a", "see you at 6", sentAt); err != nil {
		t.Fatalf("TouchLastMessage() error: %v", err)
	}

	got, err := store.Get(ctx, room.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil || got.LastMessage == nil {
		t.Fatal("expected room with last message summary")
	}
	if got.LastMessage.Body != "see you at 6" {
		t.Errorf("expected body %q, got %q", "see you at 6", got.LastMessage.Body)
	}
	if got.LastMessage.SenderID != "test_touch_a" {
		t.Errorf("expected sender %q, got %q", "test_touch_a", got.LastMessage.SenderID)
	}
	if !got.LastMessage.SentAt.Equal(sentAt) {
		t.Errorf("expected sent_at %v, got %v", sentAt, got.LastMessage.SentAt)
	}
}

func TestGet_Missing(t *testing.T) {
	store, _, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing room, got %+v", got)
	}
}
