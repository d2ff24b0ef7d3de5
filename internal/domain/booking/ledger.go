package booking

import "context"

// Ledger は予約台帳ストアのインターフェース。Username でパーティションされる
type Ledger interface {
	// Create は予約を作成する。ID または (Username, IdempotencyKey) が重複する場合は ErrDuplicateBooking
	Create(ctx context.Context, b *Booking) error

	// Get はパーティション内の予約を ID で取得する。存在しない場合は ErrBookingNotFound
	Get(ctx context.Context, id, username string) (*Booking, error)

	// GetByIdempotencyKey は冪等性キーで予約を取得する
	GetByIdempotencyKey(ctx context.Context, username, key string) (*Booking, error)

	// ListByUser はユーザーの予約を作成日時の降順で取得する（1パーティションのスキャン）
	ListByUser(ctx context.Context, username string) ([]*Booking, error)

	// MarkCancelled は Reserved の予約のみをキャンセル済みにする。
	// 条件に一致しない場合（既にキャンセル済み、存在しない）は ErrBookingNotFound
	MarkCancelled(ctx context.Context, id, username string) (*Booking, error)
}
