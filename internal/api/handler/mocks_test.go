package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-flight-booking/internal/application"
	"github.com/sanosuguru/go-flight-booking/internal/domain/airport"
	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

// MockCoordinator はBookingCoordinatorInterfaceのモック
type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) Book(ctx context.Context, in application.BookInput) (*booking.Booking, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

func (m *MockCoordinator) Cancel(ctx context.Context, bookingID, username string) (*booking.Booking, error) {
	args := m.Called(ctx, bookingID, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

func (m *MockCoordinator) CancelByFlight(ctx context.Context, key flight.Key, username string) (*booking.Booking, error) {
	args := m.Called(ctx, key, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

// MockBookingQuery はBookingQueryInterfaceのモック
type MockBookingQuery struct {
	mock.Mock
}

func (m *MockBookingQuery) ListBookingsWithFlightInfo(ctx context.Context, username string) ([]application.BookingWithFlight, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]application.BookingWithFlight), args.Error(1)
}

func (m *MockBookingQuery) GetBookingWithFlightInfo(ctx context.Context, id, username string) (*application.BookingWithFlight, error) {
	args := m.Called(ctx, id, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.BookingWithFlight), args.Error(1)
}

// MockFlightService はFlightServiceInterfaceのモック
type MockFlightService struct {
	mock.Mock
}

func (m *MockFlightService) ListByCountry(ctx context.Context, country string) ([]*flight.Flight, error) {
	args := m.Called(ctx, country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*flight.Flight), args.Error(1)
}

func (m *MockFlightService) ListByDestination(ctx context.Context, country, airportCode string) ([]*flight.Flight, error) {
	args := m.Called(ctx, country, airportCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*flight.Flight), args.Error(1)
}

// MockAirportService はAirportServiceInterfaceのモック
type MockAirportService struct {
	mock.Mock
}

func (m *MockAirportService) List(ctx context.Context) ([]*airport.Airport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*airport.Airport), args.Error(1)
}
