package rooms

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store manages room persistence in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a room store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListRooms returns all rooms the given user belongs to, most recently
// active first.
func (s *Store) ListRooms(ctx context.Context, userID string) ([]Room, error) {
	const query = `
		SELECT id, name, kind, members,
		       COALESCE(last_body, ''), COALESCE(last_sender, ''), last_sent_at,
		       created_at
		FROM rooms
		WHERE $1 = ANY(members)
		ORDER BY COALESCE(last_sent_at, created_at) DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("rooms: list: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var (
			r          Room
			lastBody   string
			lastSender string
			lastSentAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, pq.Array(&r.Members),
			&lastBody, &lastSender, &lastSentAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("rooms: scan row: %w", err)
		}
		if lastSentAt.Valid {
			r.LastMessage = &LastMessage{Body: lastBody, SenderID: lastSender, SentAt: lastSentAt.Time}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rooms: list: %w", err)
	}
	return out, nil
}

// CreateDirect creates (or returns the existing) direct room between two
// users. Direct rooms are unique per user pair.
func (s *Store) CreateDirect(ctx context.Context, userA, userB string) (*Room, error) {
	// Direct rooms store members in sorted order so the pair is a stable key.
	members := []string{userA, userB}
	if userB < userA {
		members[0], members[1] = userB, userA
	}

	const existing = `
		SELECT id, name, kind, members, created_at
		FROM rooms
		WHERE kind = 'direct' AND members = $1`

	var r Room
	err := s.db.QueryRowContext(ctx, existing, pq.Array(members)).
		Scan(&r.ID, &r.Name, &r.Kind, pq.Array(&r.Members), &r.CreatedAt)
	if err == nil {
		return &r, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("rooms: lookup direct: %w", err)
	}

	r = Room{
		ID:        uuid.New().String(),
		Kind:      KindDirect,
		Members:   members,
		CreatedAt: time.Now().UTC(),
	}
	const insert = `
		INSERT INTO rooms (id, name, kind, members, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, insert, r.ID, r.Name, r.Kind, pq.Array(r.Members), r.CreatedAt); err != nil {
		return nil, fmt.Errorf("rooms: create direct: %w", err)
	}
	return &r, nil
}

// CreateGroup creates a new group room with the given members and name.
func (s *Store) CreateGroup(ctx context.Context, members []string, name string) (*Room, error) {
	if len(members) < 2 {
		return nil, fmt.Errorf("rooms: group needs at least 2 members, got %d", len(members))
	}

	r := Room{
		ID:        uuid.New().String(),
		Name:      name,
		Kind:      KindGroup,
		Members:   members,
		CreatedAt: time.Now().UTC(),
	}
	const insert = `
		INSERT INTO rooms (id, name, kind, members, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, insert, r.ID, r.Name, r.Kind, pq.Array(r.Members), r.CreatedAt); err != nil {
		return nil, fmt.Errorf("rooms: create group: %w", err)
	}
	return &r, nil
}

// TouchLastMessage updates the room's last-message preview columns.
func (s *Store) TouchLastMessage(ctx context.Context, roomID, senderID, body string, sentAt time.Time) error {
	const query = `
		UPDATE rooms
		SET last_body = $2, last_sender = $3, last_sent_at = $4
		WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, roomID, body, senderID, sentAt); err != nil {
		return fmt.Errorf("rooms: touch last message: %w", err)
	}
	return nil
}

// Get returns a single room by ID. Returns nil if not found.
func (s *Store) Get(ctx context.Context, roomID string) (*Room, error) {
	const query = `
		SELECT id, name, kind, members,
		       COALESCE(last_body, ''), COALESCE(last_sender, ''), last_sent_at,
		       created_at
		FROM rooms
		WHERE id = $1`

	var (
		r          Room
		lastBody   string
		lastSender string
		lastSentAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, roomID).
		Scan(&r.ID, &r.Name, &r.Kind, pq.Array(&r.Members), &lastBody, &lastSender, &lastSentAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rooms: get: %w", err)
	}
	if lastSentAt.Valid {
		r.LastMessage = &LastMessage{Body: lastBody, SenderID: lastSender, SentAt: lastSentAt.Time}
	}
	return &r, nil
}
