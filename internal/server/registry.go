package server

import (
	"sync"
)

// Registry tracks live connections per user and the room each connection
// is currently viewing. A connection belongs to at most one room broadcast
// group at a time. No lock is held while enqueueing to a connection.
type Registry struct {
	mu     sync.RWMutex
	users  map[int]map[*Client]struct{}
	active map[*Client]int
	rooms  map[int]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[int]map[*Client]struct{}),
		active: make(map[*Client]int),
		rooms:  make(map[int]map[*Client]struct{}),
	}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[c]; ok {
		return
	}

	if r.users[c.user.Id] == nil {
		r.users[c.user.Id] = make(map[*Client]struct{})
	}
	r.users[c.user.Id][c] = struct{}{}
	r.active[c] = 0
}

// Unregister removes c from its user's connections and from its room
// group. It reports whether c was registered.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomId, ok := r.active[c]
	if !ok {
		return false
	}

	r.leaveRoomLocked(c, roomId)
	delete(r.active, c)

	if conns, ok := r.users[c.user.Id]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.users, c.user.Id)
		}
	}

	return true
}

func (r *Registry) ConnectionsOf(userId int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Client, 0, len(r.users[userId]))
	for c := range r.users[userId] {
		conns = append(conns, c)
	}
	return conns
}

// Clients returns a snapshot of every registered connection.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Client, 0, len(r.active))
	for c := range r.active {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// SetActiveRoom moves c into the broadcast group of roomId, leaving its
// previous group, and returns the previous room id. A roomId of 0 leaves
// all groups. ok is false when c is not registered.
func (r *Registry) SetActiveRoom(c *Client, roomId int) (prev int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok = r.active[c]
	if !ok {
		return 0, false
	}

	if prev == roomId {
		return prev, true
	}

	r.leaveRoomLocked(c, prev)
	if roomId > 0 {
		if r.rooms[roomId] == nil {
			r.rooms[roomId] = make(map[*Client]struct{})
		}
		r.rooms[roomId][c] = struct{}{}
	}
	r.active[c] = roomId

	return prev, true
}

func (r *Registry) leaveRoomLocked(c *Client, roomId int) {
	if roomId <= 0 {
		return
	}

	if group, ok := r.rooms[roomId]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(r.rooms, roomId)
		}
	}
}

func (r *Registry) ActiveRoom(c *Client) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[c]
}

// IsViewingRoom reports whether any connection of userId is in roomId.
func (r *Registry) IsViewingRoom(userId, roomId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.users[userId] {
		if r.active[c] == roomId {
			return true
		}
	}
	return false
}

// Broadcast enqueues msg to every connection in roomId's group and returns
// how many connections accepted it.
func (r *Registry) Broadcast(roomId int, msg *ServerMessage) int {
	r.mu.RLock()
	group := make([]*Client, 0, len(r.rooms[roomId]))
	for c := range r.rooms[roomId] {
		group = append(group, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range group {
		if c.queueMessage(msg) {
			sent++
		}
	}
	return sent
}
