package booking

import "time"

// EventType は予約ライフサイクルイベントの種類
type EventType string

const (
	EventReserved  EventType = "booking.reserved"
	EventCancelled EventType = "booking.cancelled"
)

// Event は予約の作成・キャンセル後に配信されるイベント
type Event struct {
	Type       EventType `json:"type"`
	BookingID  string    `json:"bookingId"`
	Username   string    `json:"username"`
	Country    string    `json:"country"`
	FlightCode string    `json:"flightCode"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewEvent は予約からイベントを作成する
func NewEvent(t EventType, b *Booking) Event {
	return Event{
		Type:       t,
		BookingID:  b.ID,
		Username:   b.Username,
		Country:    b.Country,
		FlightCode: b.FlightCode,
		OccurredAt: time.Now().UTC(),
	}
}
