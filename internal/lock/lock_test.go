package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 3, 14, 6, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.clock = func() time.Time { return now }

	lease, ok, err := locker.Acquire(ctx, "obj-1:2024-03-14", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "obj-1:2024-03-14", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held")

	other, ok, err := locker.Acquire(ctx, "obj-2:2024-03-14", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "names are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)

	_, ok, err = locker.Acquire(ctx, "obj-1:2024-03-14", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = locker.Acquire(ctx, "obj-1:2024-03-14", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is taken over")
}

func TestRedisLocker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, "autogen:")

	lease, ok, err := locker.Acquire(ctx, "obj-1:2024-03-14", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("autogen:obj-1:2024-03-14"))
	assert.Equal(t, time.Minute, mr.TTL("autogen:obj-1:2024-03-14"))

	_, ok, err = NewRedisLocker(client, "autogen:").Acquire(ctx, "obj-1:2024-03-14", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second replica is refused")

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("autogen:obj-1:2024-03-14"))

	lease, ok, err = locker.Acquire(ctx, "obj-1:2024-03-14", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld, "expired lease")

	mr.Close()
	_, _, err = locker.Acquire(ctx, "obj-9:2024-03-14", time.Minute)
	assert.Error(t, err)
}
