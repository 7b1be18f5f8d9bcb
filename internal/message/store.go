package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultPageSize is the number of messages returned per history page when
// the caller does not specify a limit.
const DefaultPageSize = 50

// Store manages message persistence in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new message. The message body must already be validated.
// File references are marshalled to JSONB; an empty SenderID is stored as
// NULL to mark a system message.
func (s *Store) Insert(ctx context.Context, msg *Message) error {
	var fileJSON []byte
	if msg.File != nil {
		var err error
		fileJSON, err = json.Marshal(msg.File)
		if err != nil {
			return fmt.Errorf("message: marshal file ref: %w", err)
		}
	}

	const query = `
		INSERT INTO messages (id, room_id, sender_id, body, kind, reply_to, file_ref, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.RoomID,
		msg.SenderID,
		msg.Body,
		msg.Kind,
		msg.ReplyTo,
		fileJSON,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("message: insert: %w", err)
	}
	return nil
}

// FetchPage returns up to limit messages for a room, in ascending
// (created_at, id) order. A nil cursor fetches the newest page; a non-nil
// cursor fetches messages strictly older than the cursor position. The next
// cursor points at the oldest message returned, or is empty when the room's
// history is exhausted.
func (s *Store) FetchPage(ctx context.Context, roomID string, cursor *Cursor, limit int) ([]Message, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		const query = `
			SELECT id, room_id, COALESCE(sender_id, ''), body, kind, COALESCE(reply_to, ''), file_ref, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`
		rows, err = s.db.QueryContext(ctx, query, roomID, limit)
	} else {
		const query = `
			SELECT id, room_id, COALESCE(sender_id, ''), body, kind, COALESCE(reply_to, ''), file_ref, created_at
			FROM messages
			WHERE room_id = $1
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`
		rows, err = s.db.QueryContext(ctx, query, roomID, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, "", fmt.Errorf("message: fetch page: %w", err)
	}
	defer rows.Close()

	var page []Message
	for rows.Next() {
		var (
			m        Message
			fileJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Body, &m.Kind, &m.ReplyTo, &fileJSON, &m.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("message: scan row: %w", err)
		}
		if len(fileJSON) > 0 {
			var ref FileRef
			if err := json.Unmarshal(fileJSON, &ref); err != nil {
				return nil, "", fmt.Errorf("message: unmarshal file ref: %w", err)
			}
			m.File = &ref
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("message: fetch page: %w", err)
	}

	// The query returns newest-first; callers want chronological order.
	sort.Slice(page, func(i, j int) bool { return page[i].Less(page[j]) })

	next := ""
	if len(page) == limit {
		oldest := page[0]
		next, err = EncodeCursor(Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID})
		if err != nil {
			return nil, "", err
		}
	}
	return page, next, nil
}
