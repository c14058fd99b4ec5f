package client

import (
	"testing"

	"github.com/npezzotti/chat-relay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestLocalHistoryEchoConfirmsInPlace(t *testing.T) {
	h := newLocalHistory()
	h.addPending(types.Message{Text: "hello", Sender: "x", CorrelationId: "abc"})

	entries := h.snapshot()
	assert.Len(t, entries, 1)
	assert.True(t, entries[0].Pending, "expected optimistic entry pending")

	// the server's echo carries the authoritative timestamp
	h.apply(types.Message{Text: "hello", Sender: "x", Timestamp: 1700000000000, CorrelationId: "abc"})

	entries = h.snapshot()
	assert.Len(t, entries, 1, "expected echo to confirm in place, not duplicate")
	assert.False(t, entries[0].Pending)
	assert.Equal(t, int64(1700000000000), entries[0].Timestamp)
}

func TestLocalHistoryOtherSendersAppend(t *testing.T) {
	h := newLocalHistory()
	h.addPending(types.Message{Text: "mine", Sender: "x", CorrelationId: "abc"})
	h.apply(types.Message{Text: "theirs", Sender: "y", Timestamp: 1, CorrelationId: "other"})
	h.apply(types.Message{Text: "no-id", Sender: "y", Timestamp: 2})

	entries := h.snapshot()
	assert.Len(t, entries, 3)
	assert.True(t, entries[0].Pending, "expected unrelated messages to leave the pending entry alone")
}

func TestReconcileConfirmsDelivered(t *testing.T) {
	h := newLocalHistory()
	h.addPending(types.Message{Text: "hello", Sender: "x", CorrelationId: "abc"})

	// the send reached the server before the connection dropped
	authoritative := []types.Message{
		{Text: "earlier", Sender: "y", Timestamp: 1},
		{Text: "hello", Sender: "x", Timestamp: 2, CorrelationId: "abc"},
	}

	resend := h.reconcile(authoritative, maxSendAttempts)
	assert.Empty(t, resend, "expected nothing to resend")

	entries := h.snapshot()
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.False(t, e.Pending)
		assert.False(t, e.Failed)
	}
	assert.Equal(t, "earlier", entries[0].Text, "expected authoritative order")
	assert.Equal(t, "hello", entries[1].Text)
}

func TestReconcileResendsUndelivered(t *testing.T) {
	h := newLocalHistory()
	h.addPending(types.Message{Text: "lost", Sender: "x", CorrelationId: "abc"})

	resend := h.reconcile(nil, maxSendAttempts)
	assert.Len(t, resend, 1, "expected the unconfirmed send to be retried")
	assert.Equal(t, "lost", resend[0].Text)

	entries := h.snapshot()
	assert.Len(t, entries, 1)
	assert.True(t, entries[0].Pending, "expected entry still pending after resend")
}

func TestReconcileMarksFailedAfterMaxAttempts(t *testing.T) {
	h := newLocalHistory()
	h.addPending(types.Message{Text: "lost", Sender: "x", CorrelationId: "abc"})

	resend := h.reconcile(nil, maxSendAttempts)
	assert.Len(t, resend, 1)

	// second reconnect, the resend was never confirmed either
	resend = h.reconcile(nil, maxSendAttempts)
	assert.Empty(t, resend, "expected no further retries")

	entries := h.snapshot()
	assert.Len(t, entries, 1)
	assert.True(t, entries[0].Failed, "expected entry marked failed")
	assert.False(t, entries[0].Pending)

	// failed entries survive later reconciles without being retried
	resend = h.reconcile(nil, maxSendAttempts)
	assert.Empty(t, resend)
	entries = h.snapshot()
	assert.Len(t, entries, 1)
	assert.True(t, entries[0].Failed)
}

func TestApplyDropsMessagesLoadedByReconcile(t *testing.T) {
	h := newLocalHistory()

	// a message broadcast between the join and the bulk-read response is
	// loaded by the reconcile and then arrives again over the socket
	msg := types.Message{Text: "hi", Sender: "y", Timestamp: 5, CorrelationId: "cid-1"}
	h.reconcile([]types.Message{msg}, maxSendAttempts)

	assert.False(t, h.apply(msg), "expected the live copy to be dropped")
	assert.Len(t, h.snapshot(), 1, "expected the message displayed exactly once")
}

func TestApplyDropsRepeatedEcho(t *testing.T) {
	h := newLocalHistory()
	h.addPending(types.Message{Text: "hello", Sender: "x", CorrelationId: "abc"})

	echo := types.Message{Text: "hello", Sender: "x", Timestamp: 1, CorrelationId: "abc"}
	assert.True(t, h.apply(echo), "expected the first echo to confirm")
	assert.False(t, h.apply(echo), "expected a repeated echo to be dropped")

	entries := h.snapshot()
	assert.Len(t, entries, 1)
	assert.False(t, entries[0].Pending)
}

func TestReconcileThenLiveTraffic(t *testing.T) {
	h := newLocalHistory()

	overlap := types.Message{Text: "during-resync", Sender: "y", Timestamp: 2, CorrelationId: "cid-1"}
	h.reconcile([]types.Message{
		{Text: "earlier", Sender: "y", Timestamp: 1},
		overlap,
	}, maxSendAttempts)

	// the overlapping message dedupes, genuinely new traffic still lands
	assert.False(t, h.apply(overlap))
	assert.True(t, h.apply(types.Message{Text: "after", Sender: "z", Timestamp: 3, CorrelationId: "cid-2"}))

	entries := h.snapshot()
	assert.Len(t, entries, 3)
	assert.Equal(t, "after", entries[2].Text)
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newLocalHistory()
	h.apply(types.Message{Text: "hello", Sender: "x", Timestamp: 1})

	entries := h.snapshot()
	entries[0].Text = "mutated"

	assert.Equal(t, "hello", h.snapshot()[0].Text, "expected snapshot mutation not to affect the view")
}
