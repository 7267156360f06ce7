package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
)

func newTestManager(t *testing.T, cfg *config.LockConfig) (*Manager, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if cfg == nil {
		cfg = &config.LockConfig{
			AcquireTimeout: 3 * time.Second,
			LeaseTTL:       10 * time.Second,
			RetryInterval:  5 * time.Millisecond,
		}
	}
	return NewManager(client, cfg), mr, client
}

func TestAcquireRelease(t *testing.T) {
	m, mr, _ := newTestManager(t, nil)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "parley:lock:conversation:c-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("parley:lock:conversation:c-1"))

	require.NoError(t, h.Release(ctx))
	assert.False(t, mr.Exists("parley:lock:conversation:c-1"))
}

func TestReleaseByNonOwner(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "l")
	require.NoError(t, err)

	stranger := &Handle{m: m, name: "l", token: "not-the-owner"}
	err = stranger.Release(ctx)
	assert.ErrorIs(t, err, ErrNotHeld)

	// The real owner can still release.
	require.NoError(t, h.Release(ctx))
}

func TestAcquireTimeout(t *testing.T) {
	m, _, client := newTestManager(t, &config.LockConfig{
		AcquireTimeout: 100 * time.Millisecond,
		LeaseTTL:       10 * time.Second,
		RetryInterval:  10 * time.Millisecond,
	})
	ctx := context.Background()

	h, err := m.Acquire(ctx, "l")
	require.NoError(t, err)
	defer func() { _ = h.Release(ctx) }()

	_, err = m.Acquire(ctx, "l")
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	// The loser's ticket must not linger and block later waiters.
	require.Eventually(t, func() bool {
		n, err := client.ZCard(context.Background(), "l"+waitersSuffix).Result()
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestLeaseExpiryRecovers(t *testing.T) {
	m, mr, _ := newTestManager(t, &config.LockConfig{
		AcquireTimeout: 2 * time.Second,
		LeaseTTL:       500 * time.Millisecond,
		RetryInterval:  5 * time.Millisecond,
	})
	ctx := context.Background()

	dead, err := m.Acquire(ctx, "l")
	require.NoError(t, err)

	// Simulate a crashed holder: the lease expires without a release.
	mr.FastForward(600 * time.Millisecond)

	h, err := m.Acquire(ctx, "l")
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))

	// The dead holder's release is refused.
	assert.ErrorIs(t, dead.Release(ctx), ErrNotHeld)
}

func TestExtend(t *testing.T) {
	m, mr, _ := newTestManager(t, nil)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "l")
	require.NoError(t, err)
	require.NoError(t, h.Extend(ctx))
	assert.Greater(t, mr.TTL("l"), time.Duration(0))

	stranger := &Handle{m: m, name: "l", token: "not-the-owner"}
	assert.ErrorIs(t, stranger.Extend(ctx), ErrNotHeld)

	require.NoError(t, h.Release(ctx))
}

func TestWithLockReentrant(t *testing.T) {
	m, mr, _ := newTestManager(t, nil)

	var depth int
	err := m.WithLock(context.Background(), "l", func(ctx context.Context) error {
		depth++
		return m.WithLock(ctx, "l", func(ctx context.Context) error {
			depth++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.False(t, mr.Exists("l"), "lock should be fully released after nested holds")
}

func TestFairnessGrantsInArrivalOrder(t *testing.T) {
	m, _, client := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "l")
	require.NoError(t, err)

	waitForTickets := func(n int64) {
		require.Eventually(t, func() bool {
			c, err := client.ZCard(context.Background(), "l"+waitersSuffix).Result()
			return err == nil && c == n
		}, 2*time.Second, 5*time.Millisecond)
	}

	order := make(chan string, 2)
	var wg sync.WaitGroup
	startWaiter := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(ctx, "l")
			if !assert.NoError(t, err) {
				return
			}
			order <- id
			time.Sleep(20 * time.Millisecond)
			assert.NoError(t, h.Release(ctx))
		}()
	}

	startWaiter("B")
	waitForTickets(1)
	startWaiter("C")
	waitForTickets(2)

	require.NoError(t, first.Release(ctx))
	wg.Wait()

	assert.Equal(t, "B", <-order)
	assert.Equal(t, "C", <-order)
}

func TestAcquireContextCanceled(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	h, err := m.Acquire(context.Background(), "l")
	require.NoError(t, err)
	defer func() { _ = h.Release(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "l")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
