package flight

import (
	"context"

	"github.com/sanosuguru/go-flight-booking/internal/domain/transaction"
)

// Inventory は座席在庫ストアのインターフェース。
// 書き込みは Version を条件とする条件付き更新のみ
type Inventory interface {
	// Get は現在の座席レコード（残席数, 最大座席数, Version）を取得する
	Get(ctx context.Context, key Key) (*Flight, error)

	// ConditionalUpdate は expectedVersion が一致する場合のみ残席数を更新し、新しい Version を返す。
	// 不一致は ErrVersionConflict、存在しない場合は ErrFlightNotFound
	ConditionalUpdate(ctx context.Context, key Key, newSeatsAvailable int, expectedVersion int64) (int64, error)

	// ConditionalUpdateTx はトランザクション内で条件付き更新を行う
	ConditionalUpdateTx(ctx context.Context, tx transaction.Tx, key Key, newSeatsAvailable int, expectedVersion int64) (int64, error)

	// FindByKeys は複数のキーに一致するフライトを1回のクエリで取得する
	FindByKeys(ctx context.Context, keys []Key) ([]*Flight, error)
}

// Catalog はフライト検索用の読み取り専用インターフェース
type Catalog interface {
	// ListByCountry は国のフライト一覧を取得する
	ListByCountry(ctx context.Context, country string) ([]*Flight, error)

	// ListByDestination は国と到着空港でフライト一覧を取得する
	ListByDestination(ctx context.Context, country, airportCode string) ([]*Flight, error)
}

// Provisioner はシード投入用のインターフェース
type Provisioner interface {
	// Upsert はフライトを作成する。既存フライトは説明項目のみ更新し、座席数と Version は変えない
	Upsert(ctx context.Context, f *Flight) error
}
