package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

// Status は予約レコードの状態を表す
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCancelled Status = "cancelled"
)

// Booking は予約台帳のレコードを表す。Username がパーティションキー
type Booking struct {
	ID             string
	Country        string
	FlightCode     string
	Username       string
	IdempotencyKey string
	Status         Status
	CreatedAt      time.Time
	CancelledAt    *time.Time
}

// NewBooking は Reserved 状態の新しい予約を作成する。ID は毎回新しく採番される
func NewBooking(key flight.Key, username, idempotencyKey string) *Booking {
	return &Booking{
		ID:             uuid.New().String(),
		Country:        key.Country,
		FlightCode:     key.FlightCode,
		Username:       username,
		IdempotencyKey: idempotencyKey,
		Status:         StatusReserved,
		CreatedAt:      time.Now().UTC(),
	}
}

// FlightKey は予約対象フライトのキーを返す
func (b *Booking) FlightKey() flight.Key {
	return flight.Key{Country: b.Country, FlightCode: b.FlightCode}
}

// IsReserved は予約が有効かを返す
func (b *Booking) IsReserved() bool {
	return b.Status == StatusReserved
}

// Cancel は予約をキャンセル済みにする。キャンセルは終端状態
func (b *Booking) Cancel() error {
	if b.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	now := time.Now().UTC()
	b.Status = StatusCancelled
	b.CancelledAt = &now
	return nil
}

// Validate は予約の検証を行う
func (b *Booking) Validate() error {
	if b.Country == "" {
		return flight.ErrCountryRequired
	}
	if b.FlightCode == "" {
		return flight.ErrFlightCodeRequired
	}
	if b.Username == "" {
		return ErrUsernameRequired
	}
	return nil
}
