package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
)

func TestNewHTTPErrorHandler(t *testing.T) {
	inconsistency := &booking.InconsistencyError{
		Operation: booking.OperationCancel,
		Flight:    flight.Key{Country: "FR", FlightCode: "YUL-NCE-1"},
		BookingID: "b-secret",
		SeatDelta: 1,
		Cause:     errors.New("postgres timeout"),
	}

	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantKind   string
		retryAfter string
	}{
		{name: "NotFound は404", err: booking.ErrBookingNotFound, wantCode: http.StatusNotFound, wantKind: "not_found"},
		{name: "CapacityExceeded は400", err: fmt.Errorf("%w: %w", booking.ErrCapacityExceeded, flight.ErrNoSeatsAvailable), wantCode: http.StatusBadRequest, wantKind: "capacity_exceeded"},
		{name: "ConcurrencyConflict は409と Retry-After", err: booking.ErrConcurrencyConflict, wantCode: http.StatusConflict, wantKind: "concurrency_conflict", retryAfter: "1"},
		{name: "InconsistentState は500", err: inconsistency, wantCode: http.StatusInternalServerError, wantKind: "inconsistent_state"},
		{name: "入力不正は400", err: booking.ErrInvalidArgument, wantCode: http.StatusBadRequest, wantKind: "invalid_argument"},
		{name: "ユーザー不明は401", err: booking.ErrIdentityRequired, wantCode: http.StatusUnauthorized, wantKind: "unauthorized"},
		{name: "echo.HTTPError はそのまま", err: echo.NewHTTPError(http.StatusMethodNotAllowed, "not allowed"), wantCode: http.StatusMethodNotAllowed},
		{name: "その他は500", err: errors.New("boom"), wantCode: http.StatusInternalServerError, wantKind: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/flight/book", nil), rec)

			NewHTTPErrorHandler(zap.NewNop())(tt.err, c)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestNewHTTPErrorHandler_InconsistencyIsOpaque(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/flight/cancel", nil), rec)
	err := &booking.InconsistencyError{
		Operation: booking.OperationCancel,
		Flight:    flight.Key{Country: "FR", FlightCode: "YUL-NCE-1"},
		BookingID: "b-secret",
		Cause:     errors.New("postgres timeout"),
	}

	NewHTTPErrorHandler(zap.New(core))(err, c)

	assert.NotContains(t, rec.Body.String(), "b-secret")
	assert.NotContains(t, rec.Body.String(), "postgres")
	assert.Equal(t, 1, logs.Len())
}

func TestCustomValidator(t *testing.T) {
	type request struct {
		Country string `validate:"required"`
	}
	v := NewValidator()

	assert.NoError(t, v.Validate(&request{Country: "FR"}))
	err := v.Validate(&request{})
	assert.ErrorIs(t, err, booking.ErrInvalidArgument)
}
