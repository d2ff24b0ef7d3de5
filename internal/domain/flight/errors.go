package flight

import "errors"

// Flight ドメインのエラー定義
var (
	ErrFlightNotFound     = errors.New("フライトが見つかりません")
	ErrNoSeatsAvailable   = errors.New("空席がありません")
	ErrAtMaxCapacity      = errors.New("残席数が既に最大座席数です")
	ErrVersionConflict    = errors.New("楽観的ロックの競合が発生しました")
	ErrUnknownOperation   = errors.New("不明な座席操作です")
	ErrCountryRequired    = errors.New("国は必須です")
	ErrFlightCodeRequired = errors.New("便コードは必須です")
	ErrInvalidSeatCount   = errors.New("残席数は0以上かつ最大座席数以下である必要があります")
	ErrInvalidSchedule    = errors.New("到着時刻は出発時刻より後である必要があります")
)
