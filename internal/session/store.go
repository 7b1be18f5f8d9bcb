package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Session represents a connection's session state stored in Redis.
type Session struct {
	ID          string `redis:"id"`
	UserID      string `redis:"user_id"`      // empty until the hello handshake
	DisplayName string `redis:"display_name"` // resident's display name
	ActiveRoom  string `redis:"active_room"`  // room the connection is viewing, empty if none
	Server      string `redis:"server"`       // which chat server instance
	CreatedAt   int64  `redis:"created_at"`   // unix timestamp
	LastActive  int64  `redis:"last_active"`  // unix timestamp
}

// Identified reports whether the session has completed the hello handshake.
func (s *Session) Identified() bool {
	return s.UserID != ""
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this chat server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new unidentified session in Redis with a 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":           sessionID,
		"user_id":      "",
		"display_name": "",
		"active_room":  "",
		"server":       s.serverName,
		"created_at":   now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// Identify binds the resident's identity to the session and refreshes
// the TTL. Called once when the hello handshake completes.
func (s *Store) Identify(ctx context.Context, sessionID, userID, displayName string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "user_id", userID, "display_name", displayName, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetActiveRoom records which room the connection is viewing.
func (s *Store) SetActiveRoom(ctx context.Context, sessionID string, roomID string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "active_room", roomID, "last_active", time.Now().Unix()).Err()
}

// ClearActiveRoom removes the active room marker.
func (s *Store) ClearActiveRoom(ctx context.Context, sessionID string) error {
	return s.SetActiveRoom(ctx, sessionID, "")
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Expire(ctx, key, SessionTTL).Err()
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
