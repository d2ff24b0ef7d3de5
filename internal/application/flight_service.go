package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/domain/airport"
	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	redisinfra "github.com/sanosuguru/go-flight-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
)

const defaultAvailabilityTTL = 30 * time.Second

// FlightService はフライトカタログの参照を提供する
type FlightService struct {
	catalog   flight.Catalog
	inventory flight.Inventory
	cache     AvailabilityCache
	ttl       time.Duration
	log       *zap.Logger
}

func NewFlightService(catalog flight.Catalog, inv flight.Inventory, cache AvailabilityCache, ttl time.Duration, log *zap.Logger) *FlightService {
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	return &FlightService{catalog: catalog, inventory: inv, cache: cache, ttl: ttl, log: logger.OrNop(log)}
}

func (s *FlightService) ListByCountry(ctx context.Context, country string) ([]*flight.Flight, error) {
	if country == "" {
		return nil, fmt.Errorf("%w: %w", booking.ErrInvalidArgument, flight.ErrCountryRequired)
	}
	return s.catalog.ListByCountry(ctx, country)
}

func (s *FlightService) ListByDestination(ctx context.Context, country, airportCode string) ([]*flight.Flight, error) {
	if country == "" || airportCode == "" {
		return nil, fmt.Errorf("%w: 国と空港コードは必須です", booking.ErrInvalidArgument)
	}
	return s.catalog.ListByDestination(ctx, country, airportCode)
}

// Availability は空席状況を返す（キャッシュアサイド）
func (s *FlightService) Availability(ctx context.Context, key flight.Key) (flight.Availability, error) {
	if s.cache != nil {
		a, err := s.cache.Get(ctx, key)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			s.log.Warn("キャッシュ取得エラー", zap.Stringer("flight", key), zap.Error(err))
		}
	}

	f, err := s.inventory.Get(ctx, key)
	if err != nil {
		if errors.Is(err, flight.ErrFlightNotFound) {
			return flight.Availability{}, fmt.Errorf("%w: %w", booking.ErrNotFound, err)
		}
		return flight.Availability{}, fmt.Errorf("フライト取得に失敗: %w", err)
	}
	a := f.Availability()
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, a, s.ttl); err != nil {
			s.log.Warn("キャッシュ保存エラー", zap.Stringer("flight", key), zap.Error(err))
		}
	}
	return a, nil
}

// AirportService は空港カタログの参照を提供する
type AirportService struct {
	repo airport.Repository
}

func NewAirportService(repo airport.Repository) *AirportService {
	return &AirportService{repo: repo}
}

func (s *AirportService) List(ctx context.Context) ([]*airport.Airport, error) {
	airports, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("空港一覧取得に失敗: %w", err)
	}
	return airports, nil
}
