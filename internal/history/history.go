package history

import (
	"sync"
	"time"

	"github.com/npezzotti/chat-relay/internal/types"
)

// Store holds the in-memory message history for every room the process has
// seen. Entries are created lazily on first join or message and live for the
// lifetime of the process. Appends are serialized per store, so timestamps
// within one room are monotonically non-decreasing.
type Store struct {
	mu   sync.RWMutex
	orgs map[string]map[string][]types.Message
	// lastTs tracks the newest timestamp per room so a clock step
	// backwards can't reorder a room's history.
	lastTs map[string]int64
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		orgs:   make(map[string]map[string][]types.Message),
		lastTs: make(map[string]int64),
		now:    time.Now,
	}
}

// Touch creates the room's history entry if it doesn't exist yet. Joining a
// room counts as touching it even if no message was ever posted.
func (s *Store) Touch(key types.RoomKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomLocked(key)
}

// Append assigns the server timestamp and appends the message to the room's
// history, creating the entry if absent. It returns the stored message.
func (s *Store) Append(key types.RoomKey, msg types.Message) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixMilli()
	if last := s.lastTs[key.String()]; ts < last {
		ts = last
	}
	msg.Timestamp = ts
	s.lastTs[key.String()] = ts

	chats := s.roomLocked(key)
	chats[key.ChatId] = append(chats[key.ChatId], msg)

	return msg
}

// Get returns a snapshot of the room's history, or an empty sequence if the
// room was never touched.
func (s *Store) Get(key types.RoomKey) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats, ok := s.orgs[key.OrganizationId]
	if !ok {
		return nil
	}

	msgs := chats[key.ChatId]
	snapshot := make([]types.Message, len(msgs))
	copy(snapshot, msgs)
	return snapshot
}

// Organization returns all chat histories under an organization, for bulk
// reads before the live channel attaches.
func (s *Store) Organization(orgId string) types.OrganizationHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org := types.OrganizationHistory{Chats: make(map[string]types.ChatHistory)}
	for chatId, msgs := range s.orgs[orgId] {
		snapshot := make([]types.Message, len(msgs))
		copy(snapshot, msgs)
		org.Chats[chatId] = types.ChatHistory{Messages: snapshot}
	}

	return org
}

func (s *Store) roomLocked(key types.RoomKey) map[string][]types.Message {
	chats, ok := s.orgs[key.OrganizationId]
	if !ok {
		chats = make(map[string][]types.Message)
		s.orgs[key.OrganizationId] = chats
	}

	if _, ok := chats[key.ChatId]; !ok {
		chats[key.ChatId] = []types.Message{}
	}

	return chats
}
