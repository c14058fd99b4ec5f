package server

import (
	"sync"

	"github.com/npezzotti/chat-relay/internal/types"
)

// Registry owns the mapping from room keys to their current member sets. A
// connection belongs to at most one room at a time; joining a new room
// implicitly leaves the previous one. All mutation happens under the
// registry lock, so a broadcast snapshot never races a concurrent leave.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

type joinResult struct {
	// createdRoom is true if the target room's member set didn't exist.
	createdRoom bool
	// prunedPrevious is true if leaving the previous room emptied it.
	prunedPrevious bool
}

// Join adds the client to the room's member set, creating it if absent, and
// removes the client from its previous room first. Idempotent for repeat
// joins to the same room.
func (r *Registry) Join(c *Client, key types.RoomKey) joinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res joinResult
	if prev := c.Room(); prev != nil && prev.String() != key.String() {
		res.prunedPrevious = r.removeLocked(c, *prev)
	}

	members, ok := r.rooms[key.String()]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[key.String()] = members
		res.createdRoom = true
	}

	members[c] = struct{}{}
	c.setRoom(&key)

	return res
}

// Leave removes the client from its current room's member set, if any. It
// reports whether that emptied the room and pruned its entry.
func (r *Registry) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := c.Room()
	if key == nil {
		return false
	}

	pruned := r.removeLocked(c, *key)
	c.setRoom(nil)

	return pruned
}

// Members returns a point-in-time snapshot of the room's member set.
func (r *Registry) Members(key types.RoomKey) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Client, 0, len(r.rooms[key.String()]))
	for c := range r.rooms[key.String()] {
		members = append(members, c)
	}

	return members
}

// NumRooms returns the number of rooms with at least one member.
func (r *Registry) NumRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

func (r *Registry) removeLocked(c *Client, key types.RoomKey) bool {
	members, ok := r.rooms[key.String()]
	if !ok {
		return false
	}

	delete(members, c)
	if len(members) == 0 {
		// membership pruning only, history is retained by the store
		delete(r.rooms, key.String())
		return true
	}

	return false
}
