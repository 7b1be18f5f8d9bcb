package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
// UserID, DisplayName and RoomID are written only by the dispatcher
// goroutine handling this connection; reads from fanout paths go through
// the ConnectionManager's room index instead.
type Connection struct {
	ID          string     // session ID (UUID)
	Conn        net.Conn   // underlying TCP connection
	Fd          int        // file descriptor for epoll lookups
	UserID      string     // resident identity, empty until hello
	DisplayName string     // resident display name
	RoomID      string     // room this connection is viewing, empty if none
	CreatedAt   time.Time  // when the connection was established
	LastPing    time.Time  // last heartbeat received from the client
	writeMu     sync.Mutex // serializes writes to this connection
	processing  int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps session IDs and file
// descriptors to their respective Connection objects, plus a room index for
// per-room fanout. It supports O(1) lookups by session ID, fd, and room.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection            // session_id -> Connection
	byFd   map[int]*Connection               // fd -> Connection
	byRoom map[string]map[string]*Connection // room_id -> session_id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
		byRoom: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// JoinRoom moves the connection into a room's fanout set, leaving any room
// it was in before. An empty roomID just leaves the previous room.
func (cm *ConnectionManager) JoinRoom(id string, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.byID[id]
	if !ok {
		return
	}
	cm.leaveRoomLocked(conn)
	if roomID == "" {
		return
	}
	set, ok := cm.byRoom[roomID]
	if !ok {
		set = make(map[string]*Connection)
		cm.byRoom[roomID] = set
	}
	set[id] = conn
	conn.RoomID = roomID
}

// LeaveRoom removes the connection from its current room's fanout set.
func (cm *ConnectionManager) LeaveRoom(id string) {
	cm.JoinRoom(id, "")
}

func (cm *ConnectionManager) leaveRoomLocked(conn *Connection) {
	if conn.RoomID == "" {
		return
	}
	if set, ok := cm.byRoom[conn.RoomID]; ok {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(cm.byRoom, conn.RoomID)
		}
	}
	conn.RoomID = ""
}

// Remove removes a connection by session ID, closes the underlying network
// connection, and removes it from all lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		cm.leaveRoomLocked(conn)
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// RemoveByFd removes a connection by file descriptor, closes the underlying
// network connection, and removes it from all lookup maps. It returns the
// removed connection, or nil if no connection was registered for that fd.
func (cm *ConnectionManager) RemoveByFd(fd int) *Connection {
	cm.mu.Lock()
	conn, ok := cm.byFd[fd]
	if ok {
		cm.leaveRoomLocked(conn)
		delete(cm.byFd, fd)
		delete(cm.byID, conn.ID)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
		return conn
	}
	return nil
}

// Get returns the connection for the given session ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// RoomCount returns the number of rooms with at least one viewer.
func (cm *ConnectionManager) RoomCount() int {
	cm.mu.RLock()
	n := len(cm.byRoom)
	cm.mu.RUnlock()
	return n
}

// InRoom returns a snapshot of the connections currently viewing the room.
func (cm *ConnectionManager) InRoom(roomID string) []*Connection {
	cm.mu.RLock()
	set := cm.byRoom[roomID]
	conns := make([]*Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
