package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/models"
)

func TestSweeperPurgesStaleQueueEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := startQueued(t, h, "cust-stale")
	fresh := startQueued(t, h, "cust-fresh")

	// Backdate the first entry past the purge age.
	entry, err := h.queue.Remove(ctx, stale.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	entry.EnqueuedAt = time.Now().Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, h.queue.Enqueue(ctx, *entry))

	sweeper := coordinator.NewSweeper(h.coord, h.queueCfg)
	sweeper.Sweep(ctx)

	got, err := h.coord.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)

	msgs, err := h.store.ListMessages(ctx, stale.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageSystem, msgs[0].Type)
	assert.Equal(t, "This conversation has been closed. You can start a new chat anytime you need assistance.", msgs[0].Content)

	kept, err := h.coord.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, kept.Status)

	size, err := h.queue.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
}

func TestSweeperRequeuesExpiredLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conv := startQueued(t, h, "cust-1")
	agent := agentParticipant("ag-1", "Grace")
	_, err := h.coord.Accept(ctx, agent, conv.ID)
	require.NoError(t, err)

	// Let the ownership lease lapse without any activity.
	h.mr.FastForward(testLeaseTTL + time.Second)

	sweeper := coordinator.NewSweeper(h.coord, h.queueCfg)
	sweeper.Sweep(ctx)

	got, err := h.coord.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Nil(t, got.Agent)

	size, err := h.queue.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	held, err := h.registry.AssignmentsOf(ctx, "ag-1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestSweeperKeepsLiveAssignment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conv := startQueued(t, h, "cust-1")
	agent := agentParticipant("ag-1", "Grace")
	_, err := h.coord.Accept(ctx, agent, conv.ID)
	require.NoError(t, err)

	sweeper := coordinator.NewSweeper(h.coord, h.queueCfg)
	sweeper.Sweep(ctx)

	got, err := h.coord.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, got.Status)

	owner, err := h.registry.Owner(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "ag-1", owner)
}

func TestSweeperStartStop(t *testing.T) {
	h := newHarness(t)

	sweeper := coordinator.NewSweeper(h.coord, h.queueCfg)
	sweeper.Start(context.Background())
	sweeper.Start(context.Background()) // double start is a no-op
	sweeper.Stop()
}
