// Package presence provides Redis-backed typing-presence state shared
// across server instances. Entries carry a TTL so a lost "stopped typing"
// signal can never pin a user as typing; a background sweep keeps the
// per-room index sets in line with the expiring entry keys.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// EntryPrefix is the key prefix for a single (room, user) typing entry.
	EntryPrefix = "typing:"

	// IndexPrefix is the key prefix for the per-room set of typing users.
	IndexPrefix = "typing:index:"

	// EntryTTL is the time-to-live of a typing entry. It covers the local
	// 4s inactivity timeout plus signal propagation slack.
	EntryTTL = 8 * time.Second

	// indexTTL keeps index sets from outliving an idle room.
	indexTTL = 10 * time.Minute
)

// Entry is one active typing entry for a room.
type Entry struct {
	UserID string
	Name   string
}

// Store manages typing presence in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a presence store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func entryKey(roomID, userID string) string {
	return EntryPrefix + roomID + ":" + userID
}

// SetTyping records (or refreshes) a user's typing entry for a room.
func (s *Store) SetTyping(ctx context.Context, roomID, userID, name string) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, entryKey(roomID, userID), name, EntryTTL)
	pipe.SAdd(ctx, IndexPrefix+roomID, userID)
	pipe.Expire(ctx, IndexPrefix+roomID, indexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: set typing: %w", err)
	}
	return nil
}

// ClearTyping removes a user's typing entry for a room.
func (s *Store) ClearTyping(ctx context.Context, roomID, userID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entryKey(roomID, userID))
	pipe.SRem(ctx, IndexPrefix+roomID, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: clear typing: %w", err)
	}
	return nil
}

// ListTyping returns the users currently typing in a room. Index members
// whose entry key has expired are pruned as a side effect, so a lost
// explicit stop degrades to the TTL bound rather than a stuck indicator.
func (s *Store) ListTyping(ctx context.Context, roomID string) ([]Entry, error) {
	userIDs, err := s.rdb.SMembers(ctx, IndexPrefix+roomID).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: list typing: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = entryKey(roomID, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: list typing: %w", err)
	}

	var (
		out   []Entry
		stale []interface{}
	)
	for i, v := range values {
		name, ok := v.(string)
		if !ok {
			// Entry expired; drop the index member.
			stale = append(stale, userIDs[i])
			continue
		}
		out = append(out, Entry{UserID: userIDs[i], Name: name})
	}
	if len(stale) > 0 {
		s.rdb.SRem(ctx, IndexPrefix+roomID, stale...)
	}
	return out, nil
}
