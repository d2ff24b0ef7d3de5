package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/config"
	"github.com/sanosuguru/go-flight-booking/internal/domain/airport"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
)

type airportRecord struct {
	Country     string `json:"country"`
	AirportCode string `json:"airportCode"`
	AirportName string `json:"airportName"`
}

type flightRecord struct {
	Country        string    `json:"country"`
	FlightCode     string    `json:"flightCode"`
	Airline        string    `json:"airline"`
	FromAirport    string    `json:"fromAirport"`
	ToAirport      string    `json:"toAirport"`
	Price          int       `json:"price"`
	SeatsAvailable *int      `json:"seatsAvailable"`
	MaxCapacity    int       `json:"maxCapacity"`
	Duration       string    `json:"duration"`
	DirectFlight   bool      `json:"directFlight"`
	DepartureTime  time.Time `json:"departureTime"`
	ArrivalTime    time.Time `json:"arrivalTime"`
}

func main() {
	airportsPath := flag.String("airports", "data/airports.json", "空港データのJSONファイル")
	flightsPath := flag.String("flights", "data/flights.json", "フライトデータのJSONファイル")
	flag.Parse()

	_ = config.LoadDotEnv()
	cfg := config.Load()
	log := logger.NewLogger(cfg.Env)
	defer logger.Sync(log)

	if err := run(cfg, log, *airportsPath, *flightsPath); err != nil {
		log.Error("シードに失敗しました", zap.Error(err))
		logger.Sync(log)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger, airportsPath, flightsPath string) error {
	airports, err := loadAirports(airportsPath)
	if err != nil {
		return err
	}
	flights, err := loadFlights(flightsPath)
	if err != nil {
		return err
	}

	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.RunMigrations(db.DB, cfg.Server.MigrationsPath, log); err != nil {
		return err
	}

	ctx := context.Background()
	return seed(ctx, postgres.NewAirportRepository(db), postgres.NewFlightRepository(db), airports, flights, log)
}

func seed(ctx context.Context, ar airport.Repository, fp flight.Provisioner, airports []*airport.Airport, flights []*flight.Flight, log *zap.Logger) error {
	for _, a := range airports {
		if err := ar.Upsert(ctx, a); err != nil {
			return fmt.Errorf("空港 %s/%s: %w", a.Country, a.AirportCode, err)
		}
	}
	for _, f := range flights {
		if err := fp.Upsert(ctx, f); err != nil {
			return fmt.Errorf("フライト %s: %w", f.Key(), err)
		}
	}
	log.Info("シードを投入しました", zap.Int("airports", len(airports)), zap.Int("flights", len(flights)))
	return nil
}

func loadAirports(path string) ([]*airport.Airport, error) {
	var records []airportRecord
	if err := readJSON(path, &records); err != nil {
		return nil, err
	}
	out := make([]*airport.Airport, 0, len(records))
	for _, r := range records {
		a := &airport.Airport{Country: r.Country, AirportCode: r.AirportCode, AirportName: r.AirportName}
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// loadFlights はフライトを読み込む。seatsAvailable がない場合は満席前の状態（最大座席数）とする
func loadFlights(path string) ([]*flight.Flight, error) {
	var records []flightRecord
	if err := readJSON(path, &records); err != nil {
		return nil, err
	}
	out := make([]*flight.Flight, 0, len(records))
	for _, r := range records {
		seats := r.MaxCapacity
		if r.SeatsAvailable != nil {
			seats = *r.SeatsAvailable
		}
		f := &flight.Flight{
			Country: r.Country, FlightCode: r.FlightCode, Airline: r.Airline,
			FromAirport: r.FromAirport, ToAirport: r.ToAirport, Price: r.Price,
			SeatsAvailable: seats, MaxCapacity: r.MaxCapacity, Duration: r.Duration,
			DirectFlight: r.DirectFlight, DepartureTime: r.DepartureTime, ArrivalTime: r.ArrivalTime,
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, f.Key(), err)
		}
		out = append(out, f)
	}
	return out, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s の読み込みに失敗: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s の解析に失敗: %w", path, err)
	}
	return nil
}
