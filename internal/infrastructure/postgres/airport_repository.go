package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-flight-booking/internal/domain/airport"
)

type airportRow struct {
	Country     string `db:"country"`
	AirportCode string `db:"airport_code"`
	AirportName string `db:"airport_name"`
}

type AirportRepository struct{ db *sqlx.DB }

func NewAirportRepository(db *sqlx.DB) *AirportRepository { return &AirportRepository{db: db} }

func (r *AirportRepository) List(ctx context.Context) ([]*airport.Airport, error) {
	var rows []airportRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT country, airport_code, airport_name FROM airports ORDER BY country, airport_code`); err != nil {
		return nil, fmt.Errorf("空港一覧取得に失敗: %w", err)
	}
	airports := make([]*airport.Airport, len(rows))
	for i, row := range rows {
		airports[i] = &airport.Airport{Country: row.Country, AirportCode: row.AirportCode, AirportName: row.AirportName}
	}
	return airports, nil
}

func (r *AirportRepository) Upsert(ctx context.Context, a *airport.Airport) error {
	if err := a.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO airports (country, airport_code, airport_name) VALUES ($1, $2, $3)
		ON CONFLICT (country, airport_code) DO UPDATE SET airport_name = EXCLUDED.airport_name`
	if _, err := r.db.ExecContext(ctx, query, a.Country, a.AirportCode, a.AirportName); err != nil {
		return fmt.Errorf("空港登録に失敗: %w", err)
	}
	return nil
}

var _ airport.Repository = (*AirportRepository)(nil)
