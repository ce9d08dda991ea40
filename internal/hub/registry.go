// Package hub is the realtime engine: it owns live connections, room
// membership, ephemeral typing state, and event broadcast. Nothing in
// this package touches persisted state except through store.Gateway.
package hub

import (
	"log/slog"
	"sync"
)

// Transport is the write half of a live connection. The websocket
// session implements it; tests substitute fakes.
type Transport interface {
	// SendEvent delivers a server event to the connected client.
	SendEvent(event string, payload any) error
}

// Connection is a live, authenticated connection. It exists only for
// the lifetime of the underlying transport.
type Connection struct {
	ID        string
	UserID    string
	Name      string
	Email     string
	transport Transport

	// rooms is guarded by the owning Registry's mutex.
	rooms map[string]struct{}
}

// PrivateRoom returns the per-user room id for direct delivery.
func PrivateRoom(userID string) string {
	return "user_" + userID
}

// Registry tracks live connections, the user to connection mapping, and
// room subscriptions. All map mutations happen under one mutex and no
// I/O runs while it is held, so updates to a single key are atomic with
// respect to each other.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection            // connection id -> connection
	byUser map[string]string                 // user id -> connection id, last connection wins
	rooms  map[string]map[string]*Connection // room id -> connection id -> connection

	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
// If logger is nil, slog.Default() is used.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]string),
		rooms:  make(map[string]map[string]*Connection),
		logger: logger.With("component", "registry"),
	}
}

// Register records a new connection and makes it the delivery target for
// its user. An earlier connection for the same user is not closed; it
// simply stops being the target (single-socket-per-user semantics).
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.rooms == nil {
		conn.rooms = make(map[string]struct{})
	}
	r.conns[conn.ID] = conn
	r.byUser[conn.UserID] = conn.ID
	r.logger.Debug("connection registered", "conn_id", conn.ID, "user_id", conn.UserID)
}

// Unregister removes a connection, both halves of the user mapping, and
// every room subscription it held. Unregistering an unknown connection
// is a no-op.
func (r *Registry) Unregister(connID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	if r.byUser[conn.UserID] == connID {
		delete(r.byUser, conn.UserID)
	}
	for roomID := range conn.rooms {
		r.removeFromRoom(roomID, connID)
	}
	conn.rooms = make(map[string]struct{})
	r.logger.Debug("connection unregistered", "conn_id", connID, "user_id", conn.UserID)
	return conn
}

// LookupUser returns the user's current live connection, if any.
func (r *Registry) LookupUser(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	conn, ok := r.conns[connID]
	return conn, ok
}

// JoinRoom subscribes a connection to a room. Joining a room the
// connection is already in is a no-op.
func (r *Registry) JoinRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	if _, ok := conn.rooms[roomID]; ok {
		return
	}
	conn.rooms[roomID] = struct{}{}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[roomID] = members
	}
	members[connID] = conn
}

// LeaveRoom unsubscribes a connection from a room. Leaving a room the
// connection is not in is a no-op.
func (r *Registry) LeaveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	if _, ok := conn.rooms[roomID]; !ok {
		return
	}
	delete(conn.rooms, roomID)
	r.removeFromRoom(roomID, connID)
}

// removeFromRoom must be called with r.mu held.
func (r *Registry) removeFromRoom(roomID, connID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// RoomMembers returns a snapshot of the connections subscribed to a
// room. An unknown room yields an empty slice.
func (r *Registry) RoomMembers(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]*Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// ConnectionRooms returns a snapshot of the room ids a connection is
// subscribed to.
func (r *Registry) ConnectionRooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		out = append(out, roomID)
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
