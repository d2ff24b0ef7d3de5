package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-flight-booking/internal/domain/airport"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

type FlightResponse struct {
	Country        string    `json:"country" example:"FR"`
	FlightCode     string    `json:"flightCode" example:"YUL-NCE-1"`
	Airline        string    `json:"airline" example:"Air Transat"`
	FromAirport    string    `json:"fromAirport" example:"YUL"`
	ToAirport      string    `json:"toAirport" example:"NCE"`
	Price          int       `json:"price" example:"899"`
	SeatsAvailable int       `json:"seatsAvailable" example:"12"`
	MaxCapacity    int       `json:"maxCapacity" example:"180"`
	Duration       string    `json:"duration" example:"7h45m"`
	DirectFlight   bool      `json:"directFlight"`
	DepartureTime  time.Time `json:"departureTime"`
	ArrivalTime    time.Time `json:"arrivalTime"`
}

func toFlightResponse(f *flight.Flight) FlightResponse {
	return FlightResponse{
		Country: f.Country, FlightCode: f.FlightCode, Airline: f.Airline,
		FromAirport: f.FromAirport, ToAirport: f.ToAirport, Price: f.Price,
		SeatsAvailable: f.SeatsAvailable, MaxCapacity: f.MaxCapacity,
		Duration: f.Duration, DirectFlight: f.DirectFlight,
		DepartureTime: f.DepartureTime, ArrivalTime: f.ArrivalTime,
	}
}

func toFlightResponses(flights []*flight.Flight) []FlightResponse {
	resp := make([]FlightResponse, len(flights))
	for i, f := range flights {
		resp[i] = toFlightResponse(f)
	}
	return resp
}

type AirportResponse struct {
	Country     string `json:"country" example:"FR"`
	AirportCode string `json:"airportCode" example:"NCE"`
	AirportName string `json:"airportName" example:"Nice Côte d'Azur"`
}

type FlightHandler struct {
	service FlightServiceInterface
}

func NewFlightHandler(s FlightServiceInterface) *FlightHandler {
	return &FlightHandler{service: s}
}

// ListByCountry godoc
// @Summary 国のフライト一覧
// @Tags flights
// @Produce json
// @Param country path string true "国コード"
// @Success 200 {array} FlightResponse
// @Router /flight/country/{country} [get]
func (h *FlightHandler) ListByCountry(c echo.Context) error {
	flights, err := h.service.ListByCountry(c.Request().Context(), c.Param("country"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toFlightResponses(flights))
}

// ListByDestination godoc
// @Summary 到着空港でフライトを検索
// @Tags flights
// @Produce json
// @Param country path string true "国コード"
// @Param airportCode path string true "到着空港コード"
// @Success 200 {array} FlightResponse
// @Router /flight/{country}/{airportCode} [get]
func (h *FlightHandler) ListByDestination(c echo.Context) error {
	flights, err := h.service.ListByDestination(c.Request().Context(), c.Param("country"), c.Param("airportCode"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toFlightResponses(flights))
}

type AirportHandler struct {
	service AirportServiceInterface
}

func NewAirportHandler(s AirportServiceInterface) *AirportHandler {
	return &AirportHandler{service: s}
}

// List godoc
// @Summary 空港一覧
// @Tags airports
// @Produce json
// @Success 200 {array} AirportResponse
// @Router /airport [get]
func (h *AirportHandler) List(c echo.Context) error {
	airports, err := h.service.List(c.Request().Context())
	if err != nil {
		return err
	}
	resp := make([]AirportResponse, len(airports))
	for i, a := range airports {
		resp[i] = toAirportResponse(a)
	}
	return c.JSON(http.StatusOK, resp)
}

func toAirportResponse(a *airport.Airport) AirportResponse {
	return AirportResponse{Country: a.Country, AirportCode: a.AirportCode, AirportName: a.AirportName}
}
