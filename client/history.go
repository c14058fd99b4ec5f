package client

import (
	"github.com/npezzotti/chat-relay/internal/types"
)

// Entry is one row of the agent's local view of the conversation. Pending
// entries are optimistic sends awaiting the server's echo; Failed entries
// were never confirmed after reconnect resync and will not be retried again.
type Entry struct {
	types.Message
	Pending bool
	Failed  bool
}

// localHistory reconciles the optimistic local view against confirmed
// messages. It is not safe for concurrent use; the agent guards it.
type localHistory struct {
	entries []Entry
	// attempts counts sends per pending correlation id
	attempts map[string]int
	// confirmed holds the correlation ids already in the view, so a
	// message loaded by resync is not appended again when its live echo
	// arrives (the socket and the bulk read overlap on reconnect)
	confirmed map[string]struct{}
}

func newLocalHistory() *localHistory {
	return &localHistory{
		attempts:  make(map[string]int),
		confirmed: make(map[string]struct{}),
	}
}

// addPending appends an optimistic entry for a just-sent message.
func (h *localHistory) addPending(msg types.Message) {
	h.entries = append(h.entries, Entry{Message: msg, Pending: true})
	h.attempts[msg.CorrelationId]++
}

// apply folds one confirmed message into the view. If it is the echo of a
// pending entry, that entry is confirmed in place rather than appended, and
// a message whose correlation id is already confirmed is dropped, so the
// message is displayed exactly once.
func (h *localHistory) apply(msg types.Message) bool {
	if msg.CorrelationId != "" {
		if _, ok := h.confirmed[msg.CorrelationId]; ok {
			return false
		}

		for i := range h.entries {
			if h.entries[i].Pending && h.entries[i].CorrelationId == msg.CorrelationId {
				h.entries[i] = Entry{Message: msg}
				delete(h.attempts, msg.CorrelationId)
				h.confirmed[msg.CorrelationId] = struct{}{}
				return true
			}
		}
		h.confirmed[msg.CorrelationId] = struct{}{}
	}

	h.entries = append(h.entries, Entry{Message: msg})
	return true
}

// reconcile rebuilds the view from the authoritative history, carrying over
// pending entries the server doesn't know about. It returns the pending
// messages that should be re-sent; entries already re-sent maxSendAttempts
// times are marked failed instead. A pending message is never assumed
// delivered.
func (h *localHistory) reconcile(authoritative []types.Message, maxSendAttempts int) []types.Message {
	confirmed := make(map[string]struct{})
	for _, msg := range authoritative {
		if msg.CorrelationId != "" {
			confirmed[msg.CorrelationId] = struct{}{}
		}
	}
	h.confirmed = confirmed

	var rebuilt []Entry
	for _, msg := range authoritative {
		rebuilt = append(rebuilt, Entry{Message: msg})
	}

	var resend []types.Message
	for _, e := range h.entries {
		if !e.Pending && !e.Failed {
			continue
		}
		if _, ok := confirmed[e.CorrelationId]; ok {
			delete(h.attempts, e.CorrelationId)
			continue
		}

		if e.Failed || h.attempts[e.CorrelationId] >= maxSendAttempts {
			e.Failed = true
			e.Pending = false
			delete(h.attempts, e.CorrelationId)
		} else {
			resend = append(resend, e.Message)
			h.attempts[e.CorrelationId]++
		}
		rebuilt = append(rebuilt, e)
	}

	h.entries = rebuilt
	return resend
}

func (h *localHistory) snapshot() []Entry {
	entries := make([]Entry, len(h.entries))
	copy(entries, h.entries)
	return entries
}
