package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockersImplementLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	for name, locker := range map[string]Locker{
		"local": NewLocal(),
		"redis": NewRedis(client, time.Minute, nil),
	} {
		t.Run(name, func(t *testing.T) {
			release, err := locker.Acquire(context.Background(), "romaneio:3:lock")
			require.NoError(t, err)
			require.NotNil(t, release)

			_, err = locker.Acquire(context.Background(), "romaneio:3:lock")
			require.ErrorIs(t, err, ErrBusy)
			release()
		})
	}
}

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "romaneio:1:lock")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "romaneio:1:lock")
	require.ErrorIs(t, err, ErrBusy)

	other, err := l.Acquire(ctx, "romaneio:2:lock")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "romaneio:1:lock")
	require.NoError(t, err)
	again()
}

func TestLocalRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal().Acquire(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRedisExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := NewRedis(client, time.Minute, nil)
	second := NewRedis(client, time.Minute, nil)
	ctx := context.Background()

	release, err := first.Acquire(ctx, "romaneio:7:lock")
	require.NoError(t, err)
	require.True(t, mr.Exists("romaneio:7:lock"))

	_, err = second.Acquire(ctx, "romaneio:7:lock")
	require.ErrorIs(t, err, ErrBusy)

	release()
	require.False(t, mr.Exists("romaneio:7:lock"))

	release, err = second.Acquire(ctx, "romaneio:7:lock")
	require.NoError(t, err)
	release()
}

func TestRedisLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedis(client, time.Second, nil)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "romaneio:8:lock")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	release, err := locker.Acquire(ctx, "romaneio:8:lock")
	require.NoError(t, err)
	release()
}
