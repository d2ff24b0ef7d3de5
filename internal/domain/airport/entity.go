package airport

import (
	"context"
	"errors"
)

var (
	ErrAirportCodeRequired = errors.New("空港コードは必須です")
	ErrCountryRequired     = errors.New("国は必須です")
)

// Airport は空港カタログのエントリ
type Airport struct {
	Country     string
	AirportCode string
	AirportName string
}

// Validate は空港の検証を行う
func (a *Airport) Validate() error {
	if a.Country == "" {
		return ErrCountryRequired
	}
	if a.AirportCode == "" {
		return ErrAirportCodeRequired
	}
	return nil
}

// Repository は空港カタログのリポジトリ
type Repository interface {
	List(ctx context.Context) ([]*Airport, error)
	Upsert(ctx context.Context, a *Airport) error
}
