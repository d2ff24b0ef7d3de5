package flight

import (
	"fmt"
	"time"
)

// Key はフライトを一意に識別する（国, 便コード）
type Key struct {
	Country    string
	FlightCode string
}

// String はログ出力用の表現を返す
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Country, k.FlightCode)
}

// Flight はフライトの座席在庫（SeatRecord）とカタログ情報を表す
type Flight struct {
	Country        string
	FlightCode     string
	Airline        string
	FromAirport    string
	ToAirport      string
	Price          int
	SeatsAvailable int
	MaxCapacity    int
	Duration       string
	DirectFlight   bool
	DepartureTime  time.Time
	ArrivalTime    time.Time
	UpdatedAt      time.Time
	Version        int64 // 楽観的ロック用。書き込みごとに変わる
}

// Key はフライトのキーを返す
func (f *Flight) Key() Key {
	return Key{Country: f.Country, FlightCode: f.FlightCode}
}

// Validate はフライトの検証を行う
func (f *Flight) Validate() error {
	if f.Country == "" {
		return ErrCountryRequired
	}
	if f.FlightCode == "" {
		return ErrFlightCodeRequired
	}
	if f.MaxCapacity < 0 || f.SeatsAvailable < 0 || f.SeatsAvailable > f.MaxCapacity {
		return ErrInvalidSeatCount
	}
	if !f.ArrivalTime.IsZero() && f.ArrivalTime.Before(f.DepartureTime) {
		return ErrInvalidSchedule
	}
	return nil
}

// Availability は空席状況（キャッシュ対象）
type Availability struct {
	SeatsAvailable int
	MaxCapacity    int
}

// Availability は現在の空席状況を返す
func (f *Flight) Availability() Availability {
	return Availability{SeatsAvailable: f.SeatsAvailable, MaxCapacity: f.MaxCapacity}
}
