package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-flight-booking/internal/api/middleware"
	"github.com/sanosuguru/go-flight-booking/internal/application"
	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

type BookingHandler struct {
	coordinator BookingCoordinatorInterface
	query       BookingQueryInterface
}

func NewBookingHandler(coordinator BookingCoordinatorInterface, query BookingQueryInterface) *BookingHandler {
	return &BookingHandler{coordinator: coordinator, query: query}
}

type BookRequest struct {
	Country        string `json:"country" validate:"required" example:"FR"`
	FlightCode     string `json:"flightCode" validate:"required" example:"YUL-NCE-1"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128" example:"req-2025-001"`
}

// CancelRequest は bookingId か (country, flightCode) のどちらかを指定する
type CancelRequest struct {
	BookingID  string `json:"bookingId,omitempty"`
	Country    string `json:"country,omitempty"`
	FlightCode string `json:"flightCode,omitempty"`
}

type BookingResponse struct {
	ID          string     `json:"id" example:"3f1c2b9e-6a0d-4f4e-9b8a-2d7c5e1a0b3c"`
	Country     string     `json:"country" example:"FR"`
	FlightCode  string     `json:"flightCode" example:"YUL-NCE-1"`
	Username    string     `json:"username" example:"alice"`
	Status      string     `json:"status" example:"reserved"`
	CreatedAt   time.Time  `json:"createdAt"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

type BookingWithFlightResponse struct {
	BookingResponse
	Flight FlightResponse `json:"flight"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID: b.ID, Country: b.Country, FlightCode: b.FlightCode, Username: b.Username,
		Status: string(b.Status), CreatedAt: b.CreatedAt, CancelledAt: b.CancelledAt,
	}
}

func toBookingWithFlightResponse(r application.BookingWithFlight) BookingWithFlightResponse {
	return BookingWithFlightResponse{BookingResponse: toBookingResponse(r.Booking), Flight: toFlightResponse(r.Flight)}
}

// Book godoc
// @Summary フライトを予約
// @Description 座席を1つ確保して予約を作成します
// @Tags bookings
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "冪等性キー"
// @Param request body BookRequest true "予約対象のフライト"
// @Success 202 {object} BookingResponse
// @Failure 400 {object} api.ErrorResponse "満席または入力不正"
// @Failure 401 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "同時更新の競合（再試行可能）"
// @Router /flight/book [post]
func (h *BookingHandler) Book(c echo.Context) error {
	username := middleware.Username(c)
	if username == "" {
		return booking.ErrIdentityRequired
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: リクエストを解析できません", booking.ErrInvalidArgument)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Request().Header.Get(middleware.HeaderIdempotencyKey)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	b, err := h.coordinator.Book(c.Request().Context(), application.BookInput{
		Country: req.Country, FlightCode: req.FlightCode, Username: username, IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, toBookingResponse(b))
}

// Cancel godoc
// @Summary 予約をキャンセル
// @Description bookingId、または country と flightCode で最新の有効な予約をキャンセルします
// @Tags bookings
// @Accept json
// @Param request body CancelRequest true "キャンセル対象"
// @Success 204
// @Failure 400 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /flight/cancel [delete]
func (h *BookingHandler) Cancel(c echo.Context) error {
	username := middleware.Username(c)
	if username == "" {
		return booking.ErrIdentityRequired
	}
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: リクエストを解析できません", booking.ErrInvalidArgument)
	}

	ctx := c.Request().Context()
	var err error
	switch {
	case req.BookingID != "":
		_, err = h.coordinator.Cancel(ctx, req.BookingID, username)
	case req.Country != "" && req.FlightCode != "":
		_, err = h.coordinator.CancelByFlight(ctx, flight.Key{Country: req.Country, FlightCode: req.FlightCode}, username)
	default:
		err = fmt.Errorf("%w: bookingId または country と flightCode が必要です", booking.ErrInvalidArgument)
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Get godoc
// @Summary 予約をフライト情報付きで取得
// @Tags bookings
// @Produce json
// @Param id path string true "予約ID"
// @Success 200 {object} BookingWithFlightResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /booking/{id} [get]
func (h *BookingHandler) Get(c echo.Context) error {
	username := middleware.Username(c)
	if username == "" {
		return booking.ErrIdentityRequired
	}
	r, err := h.query.GetBookingWithFlightInfo(c.Request().Context(), c.Param("id"), username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBookingWithFlightResponse(*r))
}

// List godoc
// @Summary ユーザーの予約一覧（フライト情報付き）
// @Tags bookings
// @Produce json
// @Success 200 {array} BookingWithFlightResponse
// @Router /booking/all [get]
func (h *BookingHandler) List(c echo.Context) error {
	username := middleware.Username(c)
	if username == "" {
		return booking.ErrIdentityRequired
	}
	results, err := h.query.ListBookingsWithFlightInfo(c.Request().Context(), username)
	if err != nil {
		return err
	}
	resp := make([]BookingWithFlightResponse, len(results))
	for i, r := range results {
		resp[i] = toBookingWithFlightResponse(r)
	}
	return c.JSON(http.StatusOK, resp)
}
