package booking

import (
	"errors"
	"fmt"

	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

// 呼び出し側に返すエラー分類
var (
	ErrNotFound            = errors.New("対象が見つかりません")
	ErrCapacityExceeded    = errors.New("座席数の上限または下限に達しています")
	ErrConcurrencyConflict = errors.New("同時更新が続いたため処理できませんでした")
	ErrInconsistentState   = errors.New("在庫と予約台帳の整合性が崩れています")
	ErrInvalidArgument     = errors.New("入力値が不正です")
)

// Booking ドメインのエラー定義
var (
	ErrBookingNotFound  = fmt.Errorf("%w: 予約が見つかりません", ErrNotFound)
	ErrAlreadyCancelled = errors.New("予約は既にキャンセルされています")
	ErrUsernameRequired = errors.New("ユーザー名は必須です")
	ErrDuplicateBooking = errors.New("同じIDまたは冪等性キーの予約が既に存在します")
	ErrIdentityRequired = errors.New("ユーザーを特定できません")
)

// Operation は不整合が発生した操作
type Operation string

const (
	OperationBook   Operation = "book"
	OperationCancel Operation = "cancel"
)

// InconsistencyError は部分的な書き込みの後に補償が失敗したことを表す。
// errors.Is(err, ErrInconsistentState) が true になる
type InconsistencyError struct {
	Operation Operation
	Flight    flight.Key
	BookingID string
	Username  string
	// SeatDelta は在庫を正しい値に戻すために必要な増減（通常 +1）
	SeatDelta int
	// Review が true の場合、在庫への書き込み結果が不明なため自動修復しない
	Review bool
	Cause  error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s: operation=%s flight=%s booking=%s user=%s: %v",
		ErrInconsistentState.Error(), e.Operation, e.Flight, e.BookingID, e.Username, e.Cause)
}

// Is は ErrInconsistentState との比較を可能にする
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistentState
}

func (e *InconsistencyError) Unwrap() error {
	return e.Cause
}

// Kind はエラーを分類名に変換する。HTTP や RPC の境界で利用する
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInconsistentState):
		return "inconsistent_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}
