package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

const (
	fieldSeatsAvailable = "seats_available"
	fieldMaxCapacity    = "max_capacity"
)

// AvailabilityCache はフライトごとの空席状況をハッシュでキャッシュする
type AvailabilityCache struct {
	client *redis.Client
}

// NewAvailabilityCache は新しいAvailabilityCacheインスタンスを作成する
func NewAvailabilityCache(client *redis.Client) *AvailabilityCache {
	return &AvailabilityCache{client: client}
}

// Get は空席状況を取得する。存在しない場合は ErrCacheMiss
func (c *AvailabilityCache) Get(ctx context.Context, key flight.Key) (flight.Availability, error) {
	values, err := c.client.HGetAll(ctx, availabilityKey(key)).Result()
	if err != nil {
		return flight.Availability{}, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	if len(values) == 0 {
		return flight.Availability{}, ErrCacheMiss
	}
	seats, err1 := strconv.Atoi(values[fieldSeatsAvailable])
	max, err2 := strconv.Atoi(values[fieldMaxCapacity])
	if err1 != nil || err2 != nil {
		// 壊れたエントリはミス扱い
		return flight.Availability{}, ErrCacheMiss
	}
	return flight.Availability{SeatsAvailable: seats, MaxCapacity: max}, nil
}

// Set は空席状況を保存する
func (c *AvailabilityCache) Set(ctx context.Context, key flight.Key, a flight.Availability, ttl time.Duration) error {
	k := availabilityKey(key)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldSeatsAvailable, a.SeatsAvailable, fieldMaxCapacity, a.MaxCapacity)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate はフライトのキャッシュを無効化する
func (c *AvailabilityCache) Invalidate(ctx context.Context, key flight.Key) error {
	if err := c.client.Del(ctx, availabilityKey(key)).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

func availabilityKey(key flight.Key) string {
	return fmt.Sprintf("flights:availability:%s:%s", key.Country, key.FlightCode)
}
