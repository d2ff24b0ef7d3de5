package handler

import (
	"context"

	"github.com/sanosuguru/go-flight-booking/internal/application"
	"github.com/sanosuguru/go-flight-booking/internal/domain/airport"
	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

// BookingCoordinatorInterface は予約の作成とキャンセルを行うコーディネーターのインターフェース
type BookingCoordinatorInterface interface {
	Book(ctx context.Context, in application.BookInput) (*booking.Booking, error)
	Cancel(ctx context.Context, bookingID, username string) (*booking.Booking, error)
	CancelByFlight(ctx context.Context, key flight.Key, username string) (*booking.Booking, error)
}

// BookingQueryInterface は予約とフライト情報を結合して返す読み取りサービスのインターフェース
type BookingQueryInterface interface {
	ListBookingsWithFlightInfo(ctx context.Context, username string) ([]application.BookingWithFlight, error)
	GetBookingWithFlightInfo(ctx context.Context, id, username string) (*application.BookingWithFlight, error)
}

// FlightServiceInterface はフライトカタログのインターフェース
type FlightServiceInterface interface {
	ListByCountry(ctx context.Context, country string) ([]*flight.Flight, error)
	ListByDestination(ctx context.Context, country, airportCode string) ([]*flight.Flight, error)
}

// AirportServiceInterface は空港カタログのインターフェース
type AirportServiceInterface interface {
	List(ctx context.Context) ([]*airport.Airport, error)
}
