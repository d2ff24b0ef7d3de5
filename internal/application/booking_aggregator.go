package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
)

// BookingWithFlight は予約とフライト情報の結合結果
type BookingWithFlight struct {
	Booking *booking.Booking
	Flight  *flight.Flight
}

// BookingAggregator は予約一覧にフライト情報を結合する読み取り専用のコンポーネント
type BookingAggregator struct {
	ledger      booking.Ledger
	inventory   flight.Inventory
	log         *zap.Logger
	callTimeout time.Duration
}

// AggregatorOption は BookingAggregator の任意設定
type AggregatorOption func(*BookingAggregator)

// WithAggregatorCallTimeout はストア呼び出しごとのタイムアウトを設定する（0 は呼び出し元の期限のみ）
func WithAggregatorCallTimeout(d time.Duration) AggregatorOption {
	return func(a *BookingAggregator) { a.callTimeout = d }
}

func NewBookingAggregator(ledger booking.Ledger, inv flight.Inventory, log *zap.Logger, opts ...AggregatorOption) *BookingAggregator {
	a := &BookingAggregator{ledger: ledger, inventory: inv, log: logger.OrNop(log), callTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListBookingsWithFlightInfo はユーザーの予約を1回のパーティションスキャンで取得し、
// 参照されるフライトを1回のクエリでまとめて取得して結合する。
// フライトが見つからない予約は結果から除外し、警告ログに残す
func (a *BookingAggregator) ListBookingsWithFlightInfo(ctx context.Context, username string) ([]BookingWithFlight, error) {
	ctx, span := tracer.Start(ctx, "BookingAggregator.ListBookingsWithFlightInfo")
	defer span.End()

	var bookings []*booking.Booking
	err := callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) error {
		var err error
		bookings, err = a.ledger.ListByUser(ctx, username)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	if len(bookings) == 0 {
		return []BookingWithFlight{}, nil
	}

	seen := make(map[flight.Key]struct{}, len(bookings))
	keys := make([]flight.Key, 0, len(bookings))
	for _, b := range bookings {
		k := b.FlightKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	var flights []*flight.Flight
	err = callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) error {
		var err error
		flights, err = a.inventory.FindByKeys(ctx, keys)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("フライト一括取得に失敗: %w", err)
	}
	lookup := make(map[flight.Key]*flight.Flight, len(flights))
	for _, f := range flights {
		lookup[f.Key()] = f
	}

	result := make([]BookingWithFlight, 0, len(bookings))
	for _, b := range bookings {
		f, ok := lookup[b.FlightKey()]
		if !ok {
			a.log.Warn("予約に対応するフライトが見つかりません",
				zap.String("booking_id", b.ID),
				zap.String("username", b.Username),
				zap.Stringer("flight", b.FlightKey()),
			)
			continue
		}
		result = append(result, BookingWithFlight{Booking: b, Flight: f})
	}
	return result, nil
}

// GetBookingWithFlightInfo は1件の予約にフライト情報を結合する。
// フライトが存在しない場合は NotFound
func (a *BookingAggregator) GetBookingWithFlightInfo(ctx context.Context, id, username string) (*BookingWithFlight, error) {
	var b *booking.Booking
	err := callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) error {
		var err error
		b, err = a.ledger.Get(ctx, id, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	var f *flight.Flight
	err = callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) error {
		var err error
		f, err = a.inventory.Get(ctx, b.FlightKey())
		return err
	})
	if err != nil {
		if errors.Is(err, flight.ErrFlightNotFound) {
			a.log.Warn("予約に対応するフライトが見つかりません", zap.String("booking_id", b.ID), zap.Stringer("flight", b.FlightKey()))
			return nil, fmt.Errorf("%w: %w", booking.ErrNotFound, err)
		}
		return nil, fmt.Errorf("フライト取得に失敗: %w", err)
	}
	return &BookingWithFlight{Booking: b, Flight: f}, nil
}
