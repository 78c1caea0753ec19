package broadcast

import (
	"log/slog"
	"sync"

	"pollcast/pkg/interfaces"
)

// Broadcaster tracks which connections are subscribed to which poll room and
// fans payloads out to them.
// ARCHITECTURAL DISCOVERY: Rooms hold connection handles only; closing a
// connection is always the transport's job, never the broadcaster's
type Broadcaster struct {
	mu          sync.RWMutex                                // TECHNICAL DISCOVERY: RWMutex favours the broadcast read path
	rooms       map[string]map[string]interfaces.Connection // pollID -> connID -> Connection
	memberships map[string]string                           // connID -> pollID
	logger      *slog.Logger
}

// New creates an empty broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		rooms:       make(map[string]map[string]interfaces.Connection),
		memberships: make(map[string]string),
		logger:      logger.With("component", "broadcast"),
	}
}

// Join subscribes conn to pollID's room. A connection belongs to at most one
// room; joining another room leaves the previous one. Joining the same room
// twice is a no-op.
func (b *Broadcaster) Join(pollID string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if pollID == "" {
		return ErrEmptyPollID
	}

	connID := conn.ID()
	b.mu.Lock()
	defer b.mu.Unlock()

	if previous, ok := b.memberships[connID]; ok && previous != pollID {
		b.removeLocked(previous, connID)
	}

	room, ok := b.rooms[pollID]
	if !ok {
		room = make(map[string]interfaces.Connection)
		b.rooms[pollID] = room
	}
	room[connID] = conn
	b.memberships[connID] = pollID
	return nil
}

// Leave unsubscribes conn from pollID's room. It is a no-op when conn is not
// a member of that room.
func (b *Broadcaster) Leave(pollID string, conn interfaces.Connection) {
	if conn == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.memberships[conn.ID()] != pollID {
		return
	}
	b.removeLocked(pollID, conn.ID())
}

// LeaveAll drops every membership conn holds. Called on disconnect.
func (b *Broadcaster) LeaveAll(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	connID := conn.ID()
	b.mu.Lock()
	defer b.mu.Unlock()
	if pollID, ok := b.memberships[connID]; ok {
		b.removeLocked(pollID, connID)
	}
}

// Broadcast delivers payload to every member of pollID's room and returns
// the number of successful writes. Members whose write fails are pruned.
func (b *Broadcaster) Broadcast(pollID string, payload interface{}) int {
	recipients := b.Members(pollID)

	delivered := 0
	for _, conn := range recipients {
		if err := conn.WriteJSON(payload); err != nil {
			b.logger.Warn("pruning unreachable connection",
				"poll_id", pollID,
				"connection_id", conn.ID(),
				"error", err)
			b.prune(pollID, conn)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns a copy of the connections currently in pollID's room.
func (b *Broadcaster) Members(pollID string) []interfaces.Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()

	room := b.rooms[pollID]
	members := make([]interfaces.Connection, 0, len(room))
	for _, conn := range room {
		members = append(members, conn)
	}
	return members
}

// RoomOf returns the poll id connID is joined to.
func (b *Broadcaster) RoomOf(connID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pollID, ok := b.memberships[connID]
	return pollID, ok
}

// Stats returns membership counters for the health endpoint.
func (b *Broadcaster) Stats() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]int{
		"joined_connections": len(b.memberships),
		"active_rooms":       len(b.rooms),
	}
}

// prune removes conn only if it is still the instance registered under its
// id in pollID's room.
func (b *Broadcaster) prune(pollID string, conn interfaces.Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.rooms[pollID][conn.ID()]; ok && current == conn {
		b.removeLocked(pollID, conn.ID())
	}
}

func (b *Broadcaster) removeLocked(pollID, connID string) {
	if room, ok := b.rooms[pollID]; ok {
		delete(room, connID)
		// TECHNICAL DISCOVERY: Drop empty rooms so long-lived processes do not
		// accumulate one map per poll ever joined
		if len(room) == 0 {
			delete(b.rooms, pollID)
		}
	}
	if b.memberships[connID] == pollID {
		delete(b.memberships, connID)
	}
}
