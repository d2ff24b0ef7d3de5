package handler

import (
	"github.com/labstack/echo/v4"
)

// Handlers はAPIのハンドラー一式
type Handlers struct {
	Health  *HealthHandler
	Airport *AirportHandler
	Flight  *FlightHandler
	Booking *BookingHandler
}

// RegisterRoutes は /api 以下のルートを登録する。
// /booking/all は /booking/:id より先に解決される（echo は静的パスを優先する）
func RegisterRoutes(g *echo.Group, h Handlers) {
	g.GET("/health", h.Health.Check)

	g.GET("/airport", h.Airport.List)

	g.GET("/flight/country/:country", h.Flight.ListByCountry)
	g.GET("/flight/:country/:airportCode", h.Flight.ListByDestination)
	g.POST("/flight/book", h.Booking.Book)
	g.DELETE("/flight/cancel", h.Booking.Cancel)

	g.GET("/booking/all", h.Booking.List)
	g.GET("/booking/:id", h.Booking.Get)
}
