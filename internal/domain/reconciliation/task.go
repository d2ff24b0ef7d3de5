package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/domain/transaction"
)

var ErrTaskNotFound = errors.New("修復タスクが見つかりません")

// Status は修復タスクの状態
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
	// StatusReview は在庫の状態が不明なため手動確認が必要なタスク
	StatusReview Status = "review"
)

// Task は在庫と予約台帳の不整合を修復するためのタスク
type Task struct {
	ID         int64
	Operation  booking.Operation
	Country    string
	FlightCode string
	BookingID  string
	Username   string
	SeatDelta  int
	Cause      string
	Attempts   int
	Status     Status
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewTask は不整合エラーからタスクを作成する
func NewTask(e *booking.InconsistencyError) *Task {
	status := StatusPending
	if e.Review || e.SeatDelta == 0 {
		status = StatusReview
	}
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	now := time.Now().UTC()
	return &Task{
		Operation:  e.Operation,
		Country:    e.Flight.Country,
		FlightCode: e.Flight.FlightCode,
		BookingID:  e.BookingID,
		Username:   e.Username,
		SeatDelta:  e.SeatDelta,
		Cause:      cause,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// FlightKey は対象フライトのキーを返す
func (t *Task) FlightKey() flight.Key {
	return flight.Key{Country: t.Country, FlightCode: t.FlightCode}
}

// Repository は修復タスクキューのリポジトリ
type Repository interface {
	Enqueue(ctx context.Context, t *Task) error
	ListPending(ctx context.Context, limit int) ([]*Task, error)
	// ResolveTx は在庫の更新と同じトランザクション内でタスクを解決済みにする
	ResolveTx(ctx context.Context, tx transaction.Tx, id int64) error
	RecordAttempt(ctx context.Context, id int64, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
}
