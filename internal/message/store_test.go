package message

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/domovik/resident-chat/internal/db"
)

// newTestStore connects to a local PostgreSQL instance and creates one
// throwaway room to satisfy the messages foreign key. Skips when no
// database is reachable.
func newTestStore(t *testing.T) (*Store, string) {
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

	roomID := uuid.New().String()
	_, err = pg.ExecContext(context.Background(),
		`INSERT INTO rooms (id, name, kind, members, created_at) VALUES ($1, '', 'group', '{test_m_a,test_m_b}', NOW())`,
		roomID)
	if err != nil {
		t.Fatalf("create test room: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		pg.ExecContext(ctx, `DELETE FROM messages WHERE room_id = $1`, roomID)
		pg.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
		pg.Close()
	})
	return NewStore(pg), roomID
}

// seed inserts n messages one second apart and returns them oldest first.
func seed(t *testing.T, store *Store, roomID string, n int) []Message {
	t.Helper()
	base := time.Now().UTC().Add(-time.Duration(n) * time.Second).Truncate(time.Millisecond)

	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		m := Message{
			ID:        uuid.New().String(),
			RoomID:    roomID,
			SenderID:  "test_m_a",
			Body:      fmt.Sprintf("message %d", i),
			Kind:      KindText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Insert(context.Background(), &m); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestFetchPage_NewestPageAscending(t *testing.T) {
	store, roomID := newTestStore(t)
	seeded := seed(t, store, roomID, 5)

	page, next, err := store.FetchPage(context.Background(), roomID, nil, 50)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if next != "" {
		t.Errorf("expected empty next cursor for short page, got %q", next)
	}
	if len(page) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(page))
	}
	for i, m := range page {
		if m.ID != seeded[i].ID {
			t.Errorf("position %d: expected %s, got %s", i, seeded[i].ID, m.ID)
		}
	}
}

func TestFetchPage_CursorWalk(t *testing.T) {
	store, roomID := newTestStore(t)
	seeded := seed(t, store, roomID, 7)
	ctx := context.Background()

	// Newest page: the last three seeded messages, ascending.
	page, next, err := store.FetchPage(ctx, roomID, nil, 3)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(page) != 3 || page[0].ID != seeded[4].ID || page[2].ID != seeded[6].ID {
		t.Fatalf("unexpected newest page: %+v", page)
	}
	if next == "" {
		t.Fatal("expected a cursor for a full page")
	}

	cursor, err := DecodeCursor(next)
	if err != nil {
		t.Fatalf("DecodeCursor() error: %v", err)
	}
	page, next, err = store.FetchPage(ctx, roomID, cursor, 3)
	if err != nil {
		t.Fatalf("FetchPage() second page error: %v", err)
	}
	if len(page) != 3 || page[0].ID != seeded[1].ID || page[2].ID != seeded[3].ID {
		t.Fatalf("unexpected middle page: %+v", page)
	}

	cursor, err = DecodeCursor(next)
	if err != nil {
		t.Fatalf("DecodeCursor() error: %v", err)
	}
	page, next, err = store.FetchPage(ctx, roomID, cursor, 3)
	if err != nil {
		t.Fatalf("FetchPage() last page error: %v", err)
	}
	if len(page) != 1 || page[0].ID != seeded[0].ID {
		t.Fatalf("unexpected oldest page: %+v", page)
	}
	if next != "" {
		t.Errorf("expected empty cursor at the start of history, got %q", next)
	}
}

func TestInsert_FileRefRoundTrip(t *testing.T) {
	store, roomID := newTestStore(t)
	ctx := context.Background()

	m := Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  "test_m_b",
		Body:      "floor plan attached",
		Kind:      KindFile,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		File:      &FileRef{URL: "https://files.example/plan.pdf", Name: "plan.pdf", Size: 48213},
	}
	if err := store.Insert(ctx, &m); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	page, _, err := store.FetchPage(ctx, roomID, nil, 50)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 message, got %d", len(page))
	}
	got := page[0]
	if got.File == nil {
		t.Fatal("expected file ref to survive the round trip")
	}
	if got.File.Name != "plan.pdf" || got.File.Size != 48213 {
		t.Errorf("unexpected file ref: %+v", got.File)
	}
	if got.Kind != KindFile {
		t.Errorf("expected kind %q, got %q", KindFile, got.Kind)
	}
}
