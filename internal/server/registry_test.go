package server

import (
	"testing"

	"github.com/npezzotti/chat-relay/internal/types"
	"github.com/stretchr/testify/assert"
)

func newRegistryClient() *Client {
	return &Client{
		id:    "test-client",
		send:  make(chan *ServerMessage, 8),
		stop:  make(chan struct{}),
		state: StateIdle,
	}
}

func TestRegistryJoinAndMembers(t *testing.T) {
	r := NewRegistry()
	c := newRegistryClient()
	key := types.RoomKey{OrganizationId: "1", ChatId: "chat_1"}

	res := r.Join(c, key)
	assert.True(t, res.createdRoom, "expected first join to create the room")
	assert.False(t, res.prunedPrevious)

	members := r.Members(key)
	assert.Len(t, members, 1)
	assert.Contains(t, members, c)
	assert.NotNil(t, c.Room(), "expected current room to be recorded")
	assert.Equal(t, key, *c.Room())
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newRegistryClient()
	key := types.RoomKey{OrganizationId: "1", ChatId: "chat_1"}

	r.Join(c, key)
	res := r.Join(c, key)

	assert.False(t, res.createdRoom, "expected repeat join not to recreate the room")
	assert.Len(t, r.Members(key), 1, "expected repeat join not to duplicate membership")
}

func TestRegistryImplicitLeaveOnJoin(t *testing.T) {
	r := NewRegistry()
	c := newRegistryClient()
	a := types.RoomKey{OrganizationId: "1", ChatId: "a"}
	b := types.RoomKey{OrganizationId: "1", ChatId: "b"}

	r.Join(c, a)
	res := r.Join(c, b)

	assert.True(t, res.prunedPrevious, "expected empty previous room to be pruned")
	assert.Empty(t, r.Members(a), "expected client removed from previous room")
	assert.Contains(t, r.Members(b), c)
	assert.Equal(t, b, *c.Room())
}

func TestRegistryLeave(t *testing.T) {
	r := NewRegistry()
	c := newRegistryClient()
	other := newRegistryClient()
	key := types.RoomKey{OrganizationId: "1", ChatId: "a"}

	r.Join(c, key)
	r.Join(other, key)

	pruned := r.Leave(c)
	assert.False(t, pruned, "expected room kept while another member remains")
	assert.Len(t, r.Members(key), 1)
	assert.Nil(t, c.Room(), "expected current room cleared on leave")

	pruned = r.Leave(other)
	assert.True(t, pruned, "expected empty room pruned")
	assert.Zero(t, r.NumRooms())
}

func TestRegistryLeaveWithoutJoin(t *testing.T) {
	r := NewRegistry()
	c := newRegistryClient()

	assert.False(t, r.Leave(c), "expected leave before any join to be a no-op")
}

func TestRegistryOrgOnlyKeysAreDistinct(t *testing.T) {
	r := NewRegistry()
	c := newRegistryClient()

	// an org-level room must not collide with a chat room of the same org
	orgOnly := types.RoomKey{OrganizationId: "1"}
	chat := types.RoomKey{OrganizationId: "1", ChatId: "a"}

	r.Join(c, orgOnly)
	assert.Empty(t, r.Members(chat))
	assert.Len(t, r.Members(orgOnly), 1)
}
