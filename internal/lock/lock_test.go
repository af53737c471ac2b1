package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func setupGuard(t *testing.T, logger *zap.Logger) (*miniredis.Miniredis, *CityGuard) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewCityGuard(client, time.Minute, logger)
}

func TestCityGuard_ExclusivePerCity(t *testing.T) {
	mr, g := setupGuard(t, zap.NewNop())
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "delhi")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.TryAcquire(ctx, "delhi")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire for the same city must fail")

	otherRelease, ok, err := g.TryAcquire(ctx, "mumbai")
	require.NoError(t, err)
	assert.True(t, ok, "different cities do not contend")
	otherRelease()

	release()
	assert.False(t, mr.Exists("ingest_lock:delhi"))

	release, ok, err = g.TryAcquire(ctx, "delhi")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestCityGuard_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	mr, g := setupGuard(t, zap.NewNop())
	ctx := context.Background()

	staleRelease, ok, err := g.TryAcquire(ctx, "delhi")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	freshRelease, ok, err := g.TryAcquire(ctx, "delhi")
	require.NoError(t, err)
	require.True(t, ok)

	staleRelease()
	assert.True(t, mr.Exists("ingest_lock:delhi"), "stale holder must not drop the new holder's lock")

	freshRelease()
	assert.False(t, mr.Exists("ingest_lock:delhi"))
}

func TestCityGuard_RedisDown(t *testing.T) {
	mr, g := setupGuard(t, zap.NewNop())
	mr.Close()

	_, ok, err := g.TryAcquire(context.Background(), "delhi")

	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCityGuard_ReleaseFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mr, g := setupGuard(t, zap.New(core))

	release, ok, err := g.TryAcquire(context.Background(), "delhi")
	require.NoError(t, err)
	require.True(t, ok)

	mr.Close()
	release()

	entries := logs.FilterMessage("Failed to release ingest lock").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "delhi", entries[0].ContextMap()["city_id"])
}
