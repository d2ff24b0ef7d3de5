package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-flight-booking/internal/config"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

func newTestClient(t *testing.T) *LockManager {
	t.Helper()
	client, err := NewClient(&config.RedisConfig{Host: "localhost", Port: "6379"})
	if err != nil {
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { client.Close() })
	return NewLockManager(client)
}

func TestIdempotencyLockKey(t *testing.T) {
	assert.Equal(t, "booking:idem:alice:k-1", IdempotencyLockKey("alice", "k-1"))
}

func TestAvailabilityKey(t *testing.T) {
	assert.Equal(t, "flights:availability:FR:YUL-NCE-1", availabilityKey(flight.Key{Country: "FR", FlightCode: "YUL-NCE-1"}))
}

func TestLockManager_AcquireLock(t *testing.T) {
	manager := newTestClient(t)
	ctx := context.Background()

	t.Run("ロックを取得できる", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "test:lock:1", 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, lock)
		defer lock.Release(ctx)
	})

	t.Run("同じキーのロックは取得できない", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "test:lock:2", 5*time.Second)
		require.NoError(t, err)
		defer lock1.Release(ctx)

		lock2, err := manager.AcquireLock(ctx, "test:lock:2", 5*time.Second)
		assert.ErrorIs(t, err, ErrLockNotAcquired)
		assert.Nil(t, lock2)
	})

	t.Run("二重解放は所有者エラー", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "test:lock:3", 5*time.Second)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))
		assert.ErrorIs(t, lock.Release(ctx), ErrLockNotOwned)
	})

	t.Run("リトライで取得できる", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "test:lock:4", 5*time.Second)
		require.NoError(t, err)

		go func() {
			time.Sleep(150 * time.Millisecond)
			lock1.Release(ctx)
		}()

		lock2, err := manager.AcquireLockWithRetry(ctx, "test:lock:4", 5*time.Second, 10, 50*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, lock2.Release(ctx))
	})
}

func TestIdempotencyLocker_Lock(t *testing.T) {
	manager := newTestClient(t)
	ctx := context.Background()
	locker := NewIdempotencyLocker(manager, 5*time.Second, 2, 10*time.Millisecond)

	release, err := locker.Lock(ctx, "alice", "k-lock")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "alice", "k-lock")
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// 別ユーザーの同じキーは独立
	other, err := locker.Lock(ctx, "bob", "k-lock")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
}

func TestAvailabilityCache(t *testing.T) {
	client, err := NewClient(&config.RedisConfig{Host: "localhost", Port: "6379"})
	if err != nil {
		t.Skip("Redis not available")
	}
	defer client.Close()
	ctx := context.Background()
	cache := NewAvailabilityCache(client)
	key := flight.Key{Country: "FR", FlightCode: "TEST-CACHE-1"}
	defer cache.Invalidate(ctx, key)

	_, err = cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, key, flight.Availability{SeatsAvailable: 3, MaxCapacity: 180}, time.Minute))
	got, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, flight.Availability{SeatsAvailable: 3, MaxCapacity: 180}, got)

	require.NoError(t, cache.Invalidate(ctx, key))
	_, err = cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
