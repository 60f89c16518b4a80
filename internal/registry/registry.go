package registry

import "sync"

// Conn is the live connection handle for one user. The registry references
// handles for outbound delivery but never owns them; the per-connection
// loop in internal/signaling is responsible for the handle's lifecycle.
type Conn interface {
	// TrySend attempts to deliver one outbound frame. The result is a
	// best-effort indicator: false means the peer was unreachable (closed
	// socket, write failure) and the frame was dropped. Callers may ignore
	// it or count it, but must not treat it as an error.
	TrySend(payload []byte) bool
}

// RoomInfo is a read-only snapshot of one room for the discovery endpoints.
type RoomInfo struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// Registry maps user identifiers to connection handles and room identifiers
// to ordered member lists. A single mutex guards both tables: every
// operation, including the multi-step Unregister, is atomic with respect to
// concurrent callers. Message rates are low enough that coarse locking is
// the right trade.
//
// Invariants:
//   - a room exists iff it has at least one member
//   - room member lists hold no duplicates and preserve join order
type Registry struct {
	mu       sync.Mutex
	maxConns int
	conns    map[string]Conn
	rooms    map[string][]string
}

// New returns an empty registry. maxConns caps the number of concurrently
// registered users; 0 or negative means unlimited.
func New(maxConns int) *Registry {
	return &Registry{
		maxConns: maxConns,
		conns:    make(map[string]Conn),
		rooms:    make(map[string][]string),
	}
}

// Register records conn as the live handle for userID.
//
// If the identifier already has a handle, the new one wins and the previous
// handle is returned so the caller can close it; the replaced handle stays
// untouched otherwise (no notification is sent through it). ok is false
// only when the connection cap is reached and userID is not already
// registered, in which case the registry is unchanged.
func (r *Registry) Register(userID string, conn Conn) (replaced Conn, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.conns[userID]
	if !exists && r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return nil, false
	}
	r.conns[userID] = conn
	return prev, true
}

// Unregister removes the user's handle and its membership in every room,
// deleting rooms that become empty, all in one atomic step. It returns the
// identifiers of the rooms the user was removed from so the caller can emit
// leave notifications. Unregistering an unknown user is a no-op returning
// nil.
//
// When conn is non-nil the handle is only removed if it is still the
// registered one; this keeps a replaced connection's teardown from
// unregistering its successor. Room membership is keyed by user identifier
// and is cleaned up either way.
func (r *Registry) Unregister(userID string, conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.conns[userID]
	if exists {
		if conn != nil && cur != conn {
			// A newer connection owns the identifier; the replaced loop must
			// not tear down its successor's registration or memberships.
			return nil
		}
		delete(r.conns, userID)
	}

	var left []string
	for roomID, members := range r.rooms {
		trimmed := removeMember(members, userID)
		if len(trimmed) == len(members) {
			continue
		}
		left = append(left, roomID)
		if len(trimmed) == 0 {
			delete(r.rooms, roomID)
		} else {
			r.rooms[roomID] = trimmed
		}
	}
	return left
}

// JoinRoom adds userID to roomID, creating the room on first join, and
// returns a snapshot of the members present before the insertion. Joining a
// room the user already belongs to is a no-op; the snapshot then excludes
// the user itself so callers can still use it as "the others".
func (r *Registry) JoinRoom(roomID, userID string) (existing []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	existing = make([]string, 0, len(members))
	already := false
	for _, id := range members {
		if id == userID {
			already = true
			continue
		}
		existing = append(existing, id)
	}
	if !already {
		r.rooms[roomID] = append(members, userID)
	}
	return existing
}

// LeaveRoom removes userID from roomID if present and deletes the room when
// it becomes empty. Unknown room or non-member: no-op.
func (r *Registry) LeaveRoom(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomID]
	if !exists {
		return
	}
	trimmed := removeMember(members, userID)
	if len(trimmed) == len(members) {
		return
	}
	if len(trimmed) == 0 {
		delete(r.rooms, roomID)
		return
	}
	r.rooms[roomID] = trimmed
}

// SendTo delivers payload to userID if it has a live handle. The result is
// best-effort: false covers both "no such user" and "send failed", which a
// signaling sender cannot and should not distinguish.
func (r *Registry) SendTo(userID string, payload []byte) bool {
	r.mu.Lock()
	conn, exists := r.conns[userID]
	r.mu.Unlock()

	if !exists {
		return false
	}
	return conn.TrySend(payload)
}

// BroadcastToRoom delivers payload to every current member of roomID except
// excludeUserID ("" excludes nobody), skipping members with no live handle.
// Membership and handles are snapshotted under the lock before any send so
// join/leave side effects triggered by delivery cannot corrupt iteration.
// Returns the number of successful deliveries.
func (r *Registry) BroadcastToRoom(roomID string, payload []byte, excludeUserID string) int {
	r.mu.Lock()
	members := r.rooms[roomID]
	targets := make([]Conn, 0, len(members))
	for _, id := range members {
		if id == excludeUserID {
			continue
		}
		if conn, exists := r.conns[id]; exists {
			targets = append(targets, conn)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if conn.TrySend(payload) {
			delivered++
		}
	}
	return delivered
}

// Rooms returns a point-in-time listing of active rooms and their member
// counts, sorted by nothing in particular (map order).
func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomInfo, 0, len(r.rooms))
	for roomID, members := range r.rooms {
		out = append(out, RoomInfo{ID: roomID, Count: len(members)})
	}
	return out
}

// Members returns the current member list of roomID in join order, or nil
// for an unknown room.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	if members == nil {
		return nil
	}
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// Connected reports whether userID currently has a live handle.
func (r *Registry) Connected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.conns[userID]
	return exists
}

func removeMember(members []string, userID string) []string {
	out := members[:0:len(members)]
	for _, id := range members {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}
