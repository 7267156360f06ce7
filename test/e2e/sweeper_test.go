package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// TestPurgeEvictsStaleEntryEndToEnd backdates a queue entry past the purge
// age and sweeps. The conversation closes with the generic notice, the CLOSED
// event crosses the bus, and watchers see the queue empty out.
func TestPurgeEvictsStaleEntryEndToEnd(t *testing.T) {
	recorder := newEventRecorder()
	app := NewTestApp(t, WithBusHandler(recorder))
	ctx := context.Background()

	watcher := ConnectWS(t, app.WSURL, AgentQueueParams("ag-watch", "Grace"))
	watcher.WaitForHandshake(5 * time.Second)
	require.Empty(t, watcher.WaitForSnapshot(5*time.Second))

	conv := app.StartConversation(t, "cust-purge", "Ada")
	app.QueueConversation(t, conv.ID, "web")
	snap := watcher.WaitForSnapshot(5 * time.Second)
	require.Len(t, snap, 1)

	// Backdate the entry past the purge age.
	entry, err := app.Queue.Remove(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	entry.EnqueuedAt = time.Now().Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, app.Queue.Enqueue(ctx, *entry))

	app.Sweeper.Sweep(ctx)

	got, err := app.Coordinator.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)

	msgs := app.GetMessages(t, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageSystem, msgs[0].Type)
	assert.Equal(t,
		"This conversation has been closed. You can start a new chat anytime you need assistance.",
		msgs[0].Content)

	// The eviction reaches watchers as an empty snapshot.
	require.Empty(t, watcher.WaitForSnapshot(5*time.Second))
	assert.Empty(t, app.AgentQueue(t))

	require.Eventually(t, func() bool {
		return recorder.CountLifecycle(events.EventTypeConversationClosed) >= 1
	}, 5*time.Second, 25*time.Millisecond)
	assert.Equal(t, 1, recorder.CountLifecycle(events.EventTypeConversationClosed))
}

// TestLeaseExpiryRequeuesConversationEndToEnd lets an assignment lease lapse,
// sweeps, and watches the conversation return to the queue with REASSIGNED
// and QUEUED announced to the room.
func TestLeaseExpiryRequeuesConversationEndToEnd(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	customer := ConnectWS(t, app.WSURL, CustomerParams("cust-tok-lease", "Ada"))
	hs := customer.WaitForHandshake(5 * time.Second)
	require.NotNil(t, hs.Conversation)
	conv := hs.Conversation

	app.QueueConversation(t, conv.ID, "web")
	customer.WaitForLifecycle(events.EventTypeConversationQueued, 5*time.Second)

	app.AcceptConversation(t, conv.ID, "ag-1", "Grace")
	customer.WaitForLifecycle(events.EventTypeConversationAccepted, 5*time.Second)

	// The agent goes silent past the lease TTL.
	app.Redis.FastForward(app.Config.Assignment.LeaseTTL + time.Second)
	app.Sweeper.Sweep(ctx)

	reassigned := customer.WaitForLifecycle(events.EventTypeConversationReassigned, 5*time.Second)
	assert.Equal(t, conv.ID, reassigned.ConversationID)
	customer.WaitForLifecycle(events.EventTypeConversationQueued, 5*time.Second)

	got, err := app.Coordinator.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Nil(t, got.Agent)

	entries := app.AgentQueue(t)
	require.Len(t, entries, 1)
	assert.Equal(t, conv.ID, entries[0].ConversationID)

	// A fresh claim works after the requeue.
	taken := app.AcceptConversation(t, conv.ID, "ag-2", "Hal")
	assert.Equal(t, models.StatusAssigned, taken.Status)
	require.NotNil(t, taken.Agent)
	assert.Equal(t, "ag-2", taken.Agent.ID)
}
