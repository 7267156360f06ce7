package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/keyspace"
)

func newTestTracker(t *testing.T, ttl time.Duration) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTracker(client, keyspace.New("parley"), ttl), mr
}

func TestMarkPresentAndIsPresent(t *testing.T) {
	tr, _ := newTestTracker(t, time.Minute)
	ctx := context.Background()

	present, err := tr.IsPresent(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, tr.MarkPresent(ctx, "cust-1"))
	present, err = tr.IsPresent(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, present)

	present, err = tr.IsPresent(ctx, "ag-1")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestPresenceExpires(t *testing.T) {
	tr, mr := newTestTracker(t, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tr.MarkPresent(ctx, "cust-1"))
	mr.FastForward(60 * time.Millisecond)
	require.NoError(t, tr.MarkPresent(ctx, "cust-1"))
	mr.FastForward(60 * time.Millisecond)

	// The second mark reset the clock.
	present, err := tr.IsPresent(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, present)

	mr.FastForward(200 * time.Millisecond)
	present, err = tr.IsPresent(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestMarkAbsent(t *testing.T) {
	tr, _ := newTestTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tr.MarkPresent(ctx, "ag-1"))
	require.NoError(t, tr.MarkAbsent(ctx, "ag-1"))

	present, err := tr.IsPresent(ctx, "ag-1")
	require.NoError(t, err)
	assert.False(t, present)

	// Marking an absent participant absent again is fine.
	require.NoError(t, tr.MarkAbsent(ctx, "ag-1"))
}
