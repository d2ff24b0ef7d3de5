package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("ロックを取得できませんでした")
	ErrLockNotOwned    = errors.New("ロックの所有者ではありません")
)

// 所有者確認と削除をアトミックに実行する
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock は Redis を使用した分散ロック
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
}

// LockManager は分散ロックを管理する
type LockManager struct {
	client *redis.Client
}

func NewLockManager(client *redis.Client) *LockManager {
	return &LockManager{client: client}
}

// AcquireLock はロックを取得する。キーが既に存在する場合は ErrLockNotAcquired
func (m *LockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	token := uuid.New().String()
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &DistributedLock{client: m.client, key: key, token: token}, nil
}

// AcquireLockWithRetry はリトライ付きでロックを取得する
func (m *LockManager) AcquireLockWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (*DistributedLock, error) {
	lastErr := ErrLockNotAcquired
	for i := 0; i < maxRetries; i++ {
		lock, err := m.AcquireLock(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		lastErr = err
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, lastErr
}

// Release はロックを解放する。TTL 切れで他者に渡ったロックは解放しない
func (l *DistributedLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("ロック解放に失敗: %w", err)
	}
	if result == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// IdempotencyLockKey は冪等性キーのロックキーを返す
func IdempotencyLockKey(username, idempotencyKey string) string {
	return fmt.Sprintf("booking:idem:%s:%s", username, idempotencyKey)
}

// IdempotencyLocker は同じ冪等性キーを持つ予約リクエストを直列化する
type IdempotencyLocker struct {
	manager    *LockManager
	ttl        time.Duration
	maxRetries int
	retryDelay time.Duration
}

func NewIdempotencyLocker(m *LockManager, ttl time.Duration, maxRetries int, retryDelay time.Duration) *IdempotencyLocker {
	return &IdempotencyLocker{manager: m, ttl: ttl, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Lock はロックを取得し、解放関数を返す
func (l *IdempotencyLocker) Lock(ctx context.Context, username, idempotencyKey string) (func(context.Context) error, error) {
	lock, err := l.manager.AcquireLockWithRetry(ctx, IdempotencyLockKey(username, idempotencyKey), l.ttl, l.maxRetries, l.retryDelay)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
