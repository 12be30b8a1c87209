package roomserver

import (
	"errors"
	"sync"

	"github.com/whisper/chat-loadgen/internal/metrics"
)

// RoomCapacity is the number of participants a chat room holds.
const RoomCapacity = 2

// ErrRoomFull is returned by Join when the room already has two members.
var ErrRoomFull = errors.New("roomserver: room is full")

// Member is a logged-in participant of a room.
type Member struct {
	Conn   *Connection
	User   string
	Avatar string
}

// Registry tracks room membership. A connection belongs to at most one room.
type Registry struct {
	mu     sync.Mutex
	rooms  map[int][]Member
	byConn map[string]int // connection id -> room id
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[int][]Member),
		byConn: make(map[string]int),
	}
}

// Members returns a snapshot of the room's members in join order.
func (r *Registry) Members(roomID int) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Member(nil), r.rooms[roomID]...)
}

// Join adds m to the room and returns the members after joining. A connection
// that already sits in a room is moved.
func (r *Registry) Join(roomID int, m Member) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[m.Conn.ID]; ok {
		if prev == roomID {
			return append([]Member(nil), r.rooms[roomID]...), nil
		}
		r.removeLocked(m.Conn.ID)
	}

	members := r.rooms[roomID]
	if len(members) >= RoomCapacity {
		return nil, ErrRoomFull
	}
	if len(members) == 0 {
		metrics.RoomsServed.Inc()
	}
	members = append(members, m)
	r.rooms[roomID] = members
	r.byConn[m.Conn.ID] = roomID
	return append([]Member(nil), members...), nil
}

// Partners returns the other members of the connection's room.
func (r *Registry) Partners(connID string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	var out []Member
	for _, m := range r.rooms[roomID] {
		if m.Conn.ID != connID {
			out = append(out, m)
		}
	}
	return out
}

// Leave removes the connection from its room. It returns the departing member,
// the room id and the members left behind; ok is false if the connection was
// not in a room.
func (r *Registry) Leave(connID string) (left Member, roomID int, rest []Member, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok = r.byConn[connID]
	if !ok {
		return Member{}, 0, nil, false
	}
	left = r.removeLocked(connID)
	return left, roomID, append([]Member(nil), r.rooms[roomID]...), true
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) removeLocked(connID string) Member {
	roomID := r.byConn[connID]
	delete(r.byConn, connID)

	var left Member
	members := r.rooms[roomID]
	kept := members[:0]
	for _, m := range members {
		if m.Conn.ID == connID {
			left = m
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(r.rooms, roomID)
		metrics.RoomsServed.Dec()
		return left
	}
	r.rooms[roomID] = kept
	return left
}
