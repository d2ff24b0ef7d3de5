package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/domain/transaction"
)

const flightColumns = `country, flight_code, airline, from_airport, to_airport, price, seats_available, max_capacity, duration, direct_flight, departure_time, arrival_time, updated_at, version`

type flightRow struct {
	Country        string       `db:"country"`
	FlightCode     string       `db:"flight_code"`
	Airline        string       `db:"airline"`
	FromAirport    string       `db:"from_airport"`
	ToAirport      string       `db:"to_airport"`
	Price          int          `db:"price"`
	SeatsAvailable int          `db:"seats_available"`
	MaxCapacity    int          `db:"max_capacity"`
	Duration       string       `db:"duration"`
	DirectFlight   bool         `db:"direct_flight"`
	DepartureTime  sql.NullTime `db:"departure_time"`
	ArrivalTime    sql.NullTime `db:"arrival_time"`
	UpdatedAt      time.Time    `db:"updated_at"`
	Version        int64        `db:"version"`
}

func (r *flightRow) toEntity() *flight.Flight {
	return &flight.Flight{
		Country: r.Country, FlightCode: r.FlightCode, Airline: r.Airline,
		FromAirport: r.FromAirport, ToAirport: r.ToAirport, Price: r.Price,
		SeatsAvailable: r.SeatsAvailable, MaxCapacity: r.MaxCapacity,
		Duration: r.Duration, DirectFlight: r.DirectFlight,
		DepartureTime: r.DepartureTime.Time, ArrivalTime: r.ArrivalTime.Time,
		UpdatedAt: r.UpdatedAt, Version: r.Version,
	}
}

func toEntities(rows []flightRow) []*flight.Flight {
	flights := make([]*flight.Flight, len(rows))
	for i := range rows {
		flights[i] = rows[i].toEntity()
	}
	return flights
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// FlightRepository は座席在庫ストアの PostgreSQL 実装。
// 書き込みは version 列を条件とした条件付き更新のみ
type FlightRepository struct{ db *sqlx.DB }

func NewFlightRepository(db *sqlx.DB) *FlightRepository { return &FlightRepository{db: db} }

func (r *FlightRepository) Get(ctx context.Context, key flight.Key) (*flight.Flight, error) {
	query := `SELECT ` + flightColumns + ` FROM flights WHERE country = $1 AND flight_code = $2`
	var row flightRow
	if err := r.db.GetContext(ctx, &row, query, key.Country, key.FlightCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, flight.ErrFlightNotFound
		}
		return nil, fmt.Errorf("フライト取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

func (r *FlightRepository) ConditionalUpdate(ctx context.Context, key flight.Key, newSeatsAvailable int, expectedVersion int64) (int64, error) {
	return r.conditionalUpdate(ctx, r.db, key, newSeatsAvailable, expectedVersion)
}

func (r *FlightRepository) ConditionalUpdateTx(ctx context.Context, tx transaction.Tx, key flight.Key, newSeatsAvailable int, expectedVersion int64) (int64, error) {
	sqlxTx, err := unwrapTx(tx)
	if err != nil {
		return 0, err
	}
	return r.conditionalUpdate(ctx, sqlxTx, key, newSeatsAvailable, expectedVersion)
}

func (r *FlightRepository) conditionalUpdate(ctx context.Context, q sqlx.QueryerContext, key flight.Key, newSeatsAvailable int, expectedVersion int64) (int64, error) {
	query := `UPDATE flights SET seats_available = $1, updated_at = NOW(), version = version + 1
		WHERE country = $2 AND flight_code = $3 AND version = $4 RETURNING version`
	var version int64
	err := q.QueryRowxContext(ctx, query, newSeatsAvailable, key.Country, key.FlightCode, expectedVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if hasCode(err, codeCheckViolation) {
		return 0, flight.ErrInvalidSeatCount
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("残席数の更新に失敗: %w", err)
	}

	// 0件更新: レコードが存在しないか、他の書き込みが先行した
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM flights WHERE country = $1 AND flight_code = $2)`, key.Country, key.FlightCode); err != nil {
		return 0, fmt.Errorf("フライト存在確認に失敗: %w", err)
	}
	if !exists {
		return 0, flight.ErrFlightNotFound
	}
	return 0, flight.ErrVersionConflict
}

// FindByKeys は全キーを1回のクエリで取得する
func (r *FlightRepository) FindByKeys(ctx context.Context, keys []flight.Key) ([]*flight.Flight, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	countries := make([]string, len(keys))
	codes := make([]string, len(keys))
	for i, k := range keys {
		countries[i] = k.Country
		codes[i] = k.FlightCode
	}
	query := `SELECT ` + flightColumns + ` FROM flights
		WHERE (country, flight_code) IN (SELECT * FROM unnest($1::text[], $2::text[]))`
	var rows []flightRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(countries), pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("フライト一括取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

func (r *FlightRepository) ListByCountry(ctx context.Context, country string) ([]*flight.Flight, error) {
	query := `SELECT ` + flightColumns + ` FROM flights WHERE country = $1 ORDER BY departure_time, flight_code`
	var rows []flightRow
	if err := r.db.SelectContext(ctx, &rows, query, country); err != nil {
		return nil, fmt.Errorf("フライト一覧取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

func (r *FlightRepository) ListByDestination(ctx context.Context, country, airportCode string) ([]*flight.Flight, error) {
	query := `SELECT ` + flightColumns + ` FROM flights WHERE country = $1 AND to_airport = $2 ORDER BY departure_time, flight_code`
	var rows []flightRow
	if err := r.db.SelectContext(ctx, &rows, query, country, airportCode); err != nil {
		return nil, fmt.Errorf("フライト一覧取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

// Upsert はシード投入用。既存レコードは説明項目のみ更新し、座席カウンターと version は保持する
func (r *FlightRepository) Upsert(ctx context.Context, f *flight.Flight) error {
	if err := f.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO flights (` + flightColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), 1)
		ON CONFLICT (country, flight_code) DO UPDATE SET
			airline = EXCLUDED.airline, from_airport = EXCLUDED.from_airport, to_airport = EXCLUDED.to_airport,
			price = EXCLUDED.price, duration = EXCLUDED.duration, direct_flight = EXCLUDED.direct_flight,
			departure_time = EXCLUDED.departure_time, arrival_time = EXCLUDED.arrival_time,
			updated_at = NOW()
		RETURNING seats_available, max_capacity, version, updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		f.Country, f.FlightCode, f.Airline, f.FromAirport, f.ToAirport, f.Price,
		f.SeatsAvailable, f.MaxCapacity, f.Duration, f.DirectFlight,
		nullTime(f.DepartureTime), nullTime(f.ArrivalTime),
	).Scan(&f.SeatsAvailable, &f.MaxCapacity, &f.Version, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("フライト登録に失敗: %w", err)
	}
	return nil
}

var (
	_ flight.Inventory   = (*FlightRepository)(nil)
	_ flight.Catalog     = (*FlightRepository)(nil)
	_ flight.Provisioner = (*FlightRepository)(nil)
)
