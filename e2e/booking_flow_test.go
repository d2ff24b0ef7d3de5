package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/api/handler"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/gateway"
)

func seedFlight(t *testing.T, code string, seats, max int) flight.Key {
	t.Helper()
	dep := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	f := &flight.Flight{
		Country: "FR", FlightCode: code, Airline: "Air Transat", FromAirport: "YUL", ToAirport: "NCE",
		Price: 899, SeatsAvailable: seats, MaxCapacity: max, Duration: "7h45m", DirectFlight: true,
		DepartureTime: dep, ArrivalTime: dep.Add(7*time.Hour + 45*time.Minute),
	}
	require.NoError(t, flightRepo.Upsert(context.Background(), f))
	return f.Key()
}

func seatsOf(t *testing.T, key flight.Key) int {
	t.Helper()
	f, err := flightRepo.Get(context.Background(), key)
	require.NoError(t, err)
	return f.SeatsAvailable
}

// TestE2E_HealthCheck はヘルスチェックをテスト
func TestE2E_HealthCheck(t *testing.T) {
	server := getTestServer(t)

	rec := server.Request(http.MethodGet, "/api/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp handler.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

// TestE2E_CompleteBookingJourney は検索 → 予約 → 一覧 → キャンセルの流れをテスト
func TestE2E_CompleteBookingJourney(t *testing.T) {
	server := getTestServer(t)
	key := seedFlight(t, "YUL-NCE-1", 3, 180)
	user := map[string]string{"X-User-ID": "e2e-user-tremblay"}
	var bookingID string

	t.Run("到着空港でフライトを検索", func(t *testing.T) {
		rec := server.Request(http.MethodGet, "/api/flight/FR/NCE", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var flights []handler.FlightResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flights))
		require.Len(t, flights, 1)
		assert.Equal(t, 3, flights[0].SeatsAvailable)
	})

	t.Run("予約する", func(t *testing.T) {
		rec := server.Request(http.MethodPost, "/api/flight/book",
			map[string]string{"country": key.Country, "flightCode": key.FlightCode}, user)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var resp handler.BookingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		bookingID = resp.ID
		assert.Equal(t, "reserved", resp.Status)
		assert.Equal(t, 2, seatsOf(t, key))
	})

	t.Run("フライト情報付きで一覧を取得", func(t *testing.T) {
		rec := server.Request(http.MethodGet, "/api/booking/all", nil, user)
		require.Equal(t, http.StatusOK, rec.Code)

		var list []handler.BookingWithFlightResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, bookingID, list[0].ID)
		assert.Equal(t, "Air Transat", list[0].Flight.Airline)
	})

	t.Run("他のユーザーからは見えない", func(t *testing.T) {
		rec := server.Request(http.MethodGet, "/api/booking/"+bookingID, nil, map[string]string{"X-User-ID": "someone-else"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("キャンセルで座席が戻る", func(t *testing.T) {
		rec := server.Request(http.MethodDelete, "/api/flight/cancel", map[string]string{"bookingId": bookingID}, user)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		assert.Equal(t, 3, seatsOf(t, key))

		rec = server.Request(http.MethodDelete, "/api/flight/cancel", map[string]string{"bookingId": bookingID}, user)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestE2E_LastSeat は最後の1席を同時に予約した場合に1件だけ成功することをテスト
func TestE2E_LastSeat(t *testing.T) {
	server := getTestServer(t)
	key := seedFlight(t, "YUL-NCE-2", 1, 180)

	const users = 10
	codes := make([]int, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := server.Request(http.MethodPost, "/api/flight/book",
				map[string]string{"country": key.Country, "flightCode": key.FlightCode},
				map[string]string{"X-User-ID": fmt.Sprintf("racer-%d", i)})
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, c := range codes {
		if c == http.StatusAccepted {
			accepted++
		} else {
			assert.Contains(t, []int{http.StatusBadRequest, http.StatusConflict}, c)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 0, seatsOf(t, key))
}

// TestE2E_IdempotencyKey は冪等性キーをテスト
func TestE2E_IdempotencyKey(t *testing.T) {
	server := getTestServer(t)
	key := seedFlight(t, "YUL-NCE-3", 5, 180)
	headers := map[string]string{"X-User-ID": "user-idem", "Idempotency-Key": "same-key-12345"}
	body := map[string]string{"country": key.Country, "flightCode": key.FlightCode}

	rec1 := server.Request(http.MethodPost, "/api/flight/book", body, headers)
	require.Equal(t, http.StatusAccepted, rec1.Code)
	rec2 := server.Request(http.MethodPost, "/api/flight/book", body, headers)
	require.Equal(t, http.StatusAccepted, rec2.Code)

	var resp1, resp2 handler.BookingResponse
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &resp1))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	assert.Equal(t, resp1.ID, resp2.ID, "同じ冪等性キーなら同じ予約IDが返るべき")
	assert.Equal(t, 4, seatsOf(t, key))
}

// TestE2E_ErrorTaxonomy はエラー分類がHTTPステータスへ対応することをテスト
func TestE2E_ErrorTaxonomy(t *testing.T) {
	server := getTestServer(t)
	full := seedFlight(t, "YUL-LAX-1", 0, 150)
	user := map[string]string{"X-User-ID": "user-errors"}

	tests := []struct {
		name     string
		body     map[string]string
		headers  map[string]string
		wantCode int
		wantKind string
	}{
		{name: "満席", body: map[string]string{"country": full.Country, "flightCode": full.FlightCode}, headers: user, wantCode: http.StatusBadRequest, wantKind: "capacity_exceeded"},
		{name: "存在しないフライト", body: map[string]string{"country": "FR", "flightCode": "NOPE-1"}, headers: user, wantCode: http.StatusNotFound, wantKind: "not_found"},
		{name: "ユーザー不明", body: map[string]string{"country": full.Country, "flightCode": full.FlightCode}, wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := server.Request(http.MethodPost, "/api/flight/book", tt.body, tt.headers)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantKind != "" {
				assert.Contains(t, rec.Body.String(), tt.wantKind)
			}
		})
	}
}

// TestE2E_Gateway はツールゲートウェイ経由で予約できることをテスト
func TestE2E_Gateway(t *testing.T) {
	server := getTestServer(t)
	key := seedFlight(t, "YUL-NCE-4", 1, 180)

	booking := httptest.NewServer(server.Echo)
	defer booking.Close()
	gw := newGateway(booking.URL)

	call := func(args string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"book_flight","arguments":`+args+`}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		req.Header.Set("X-User-ID", "gateway-user")
		rec := httptest.NewRecorder()
		gw.ServeHTTP(rec, req)
		return rec
	}
	type toolResponse struct {
		Result struct {
			IsError           bool            `json:"isError"`
			StructuredContent json.RawMessage `json:"structuredContent"`
		} `json:"result"`
	}

	args := fmt.Sprintf(`{"country":%q,"flightCode":%q}`, key.Country, key.FlightCode)
	rec := call(args)
	require.Equal(t, http.StatusOK, rec.Code)
	var first toolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Result.IsError)

	rec = call(args)
	var second toolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.True(t, second.Result.IsError)
	var rpcErr gateway.RPCError
	require.NoError(t, json.Unmarshal(second.Result.StructuredContent, &rpcErr))
	assert.Equal(t, gateway.CodeCapacityExceeded, rpcErr.Code)
	assert.Equal(t, "capacity_exceeded", rpcErr.Data.Kind)
}

func newGateway(bookingURL string) http.Handler {
	e := echo.New()
	gateway.NewServer(gateway.NewRegistry(gateway.NewBookingClient(bookingURL, 5*time.Second)), zap.NewNop()).RegisterRoutes(e)
	return e
}
