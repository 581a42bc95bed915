package task

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	xerrors "Treasury-Rebalancer/internal/errors"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	now := time.Unix(1_700_000_000, 0)
	locker.clock = func() time.Time { return now }

	release, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "k", time.Minute)
	require.True(t, xerrors.HasCode(err, xerrors.CodeConflict))

	require.NoError(t, release(ctx))
	release, err = locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err, "expired lease should be taken over")

	// 过期后由他人接管，原持有者的释放不能删除新锁。
	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "k", time.Minute)
	require.True(t, xerrors.HasCode(err, xerrors.CodeConflict))
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker, err := NewRedisLocker(client)
	require.NoError(t, err)

	release, err := locker.Acquire(ctx, LockPrefix+"goerli", time.Minute)
	require.NoError(t, err)
	require.True(t, srv.Exists(LockPrefix+"goerli"))
	require.Equal(t, time.Minute, srv.TTL(LockPrefix+"goerli"))

	_, err = locker.Acquire(ctx, LockPrefix+"goerli", time.Minute)
	require.True(t, xerrors.HasCode(err, xerrors.CodeConflict))

	_, err = locker.Acquire(ctx, LockPrefix+"mainnet", time.Minute)
	require.NoError(t, err, "locks are per network")

	require.NoError(t, release(ctx))
	require.False(t, srv.Exists(LockPrefix+"goerli"))

	srv.FastForward(2 * time.Minute)
	_, err = locker.Acquire(ctx, LockPrefix+"mainnet", time.Minute)
	require.NoError(t, err, "lock should expire with its ttl")

	_, err = locker.Acquire(ctx, "k", 0)
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}
