package flight

// Operation は座席カウンターに対する操作
type Operation string

const (
	OperationReserve Operation = "reserve"
	OperationRelease Operation = "release"
)

// CanReserve は残席があるかを返す
func CanReserve(seatsAvailable int) bool {
	return seatsAvailable > 0
}

// CanRelease は座席を戻せる（最大座席数未満）かを返す
func CanRelease(seatsAvailable, maxCapacity int) bool {
	return seatsAvailable < maxCapacity
}

// ApplyReserve は予約後の残席数を返す
func ApplyReserve(seatsAvailable int) int {
	return seatsAvailable - 1
}

// ApplyRelease は解放後の残席数を返す
func ApplyRelease(seatsAvailable int) int {
	return seatsAvailable + 1
}

// Decide は読み取ったばかりの状態に対して操作が可能か判定し、新しい残席数を返す。
// キャッシュ済みの古い状態ではなく、試行ごとに再読込した値を渡すこと
func Decide(op Operation, seatsAvailable, maxCapacity int) (int, error) {
	switch op {
	case OperationReserve:
		if !CanReserve(seatsAvailable) {
			return seatsAvailable, ErrNoSeatsAvailable
		}
		return ApplyReserve(seatsAvailable), nil
	case OperationRelease:
		if !CanRelease(seatsAvailable, maxCapacity) {
			return seatsAvailable, ErrAtMaxCapacity
		}
		return ApplyRelease(seatsAvailable), nil
	default:
		return seatsAvailable, ErrUnknownOperation
	}
}
