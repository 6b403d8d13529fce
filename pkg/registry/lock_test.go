package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/errdefs"
)

func TestLockAcquireAndContention(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	lock := c.NewLock("locks:rebuild:se-1")

	require.NoError(t, lock.TryAcquire(ctx, "owner-a", 10, time.Minute))

	// A second acquirer is told who holds it and at what priority.
	err := lock.TryAcquire(ctx, "owner-b", 20, time.Minute)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindRebuildInProgress))

	pri, err := lock.HolderPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, pri)
}

func TestLockExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lock := c.NewLock("locks:rebuild:se-1")

	require.NoError(t, lock.TryAcquire(ctx, "owner-a", 10, time.Minute))
	mr.FastForward(2 * time.Minute)

	// Expiry frees the lock for a waiter.
	require.NoError(t, lock.TryAcquire(ctx, "owner-b", 20, time.Minute))

	pri, err := lock.HolderPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, pri)
}

func TestLockRenew(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lock := c.NewLock("locks:rebuild:se-1")

	require.NoError(t, lock.TryAcquire(ctx, "owner-a", 10, time.Minute))
	require.NoError(t, lock.Renew(ctx, "owner-a", 5*time.Minute))

	// The renewed TTL outlives the original one.
	mr.FastForward(2 * time.Minute)
	pri, err := lock.HolderPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, pri)

	// A non-owner cannot renew.
	err = lock.Renew(ctx, "owner-b", time.Minute)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindRebuildInProgress))
}

func TestLockRelease(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	lock := c.NewLock("locks:rebuild:se-1")

	require.NoError(t, lock.TryAcquire(ctx, "owner-a", 10, time.Minute))

	// A non-owner release is a no-op.
	require.NoError(t, lock.Release(ctx, "owner-b"))
	_, err := lock.HolderPriority(ctx)
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx, "owner-a"))
	_, err = lock.HolderPriority(ctx)
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

	// Releasing a free lock is also a no-op.
	require.NoError(t, lock.Release(ctx, "owner-a"))
}
