package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sanosuguru/go-flight-booking/internal/api"
	"github.com/sanosuguru/go-flight-booking/internal/api/handler"
	"github.com/sanosuguru/go-flight-booking/internal/api/middleware"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/tracing"
)

// Identity は呼び出し元のユーザー情報。予約APIへそのまま転送する
type Identity struct {
	UserID        string
	Authorization string
}

type identityKey struct{}

// WithIdentity はコンテキストに呼び出し元のユーザー情報を設定する
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// RemoteError は予約APIが返したエラー
type RemoteError struct {
	Status  int
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("booking api: %d %s: %s", e.Status, e.Kind, e.Message)
}

// kindForStatus は本文に kind がない場合にステータスから分類を推定する
func kindForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "capacity_exceeded"
	case http.StatusConflict:
		return "concurrency_conflict"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusInternalServerError:
		return "inconsistent_state"
	default:
		return "internal"
	}
}

// BookingAPI はゲートウェイのツールが利用する予約APIの操作
type BookingAPI interface {
	Airports(ctx context.Context) ([]handler.AirportResponse, error)
	FlightsByCountry(ctx context.Context, country string) ([]handler.FlightResponse, error)
	FlightsByAirport(ctx context.Context, country, airportCode string) ([]handler.FlightResponse, error)
	Book(ctx context.Context, req handler.BookRequest) (*handler.BookingResponse, error)
	Cancel(ctx context.Context, req handler.CancelRequest) error
	GetBooking(ctx context.Context, id string) (*handler.BookingWithFlightResponse, error)
	ListBookings(ctx context.Context) ([]handler.BookingWithFlightResponse, error)
}

// BookingClient は予約APIのHTTPクライアント
type BookingClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBookingClient は新しいBookingClientを作成する。baseURL は /api を含まないサーバーのURL
func NewBookingClient(baseURL string, timeout time.Duration) *BookingClient {
	return &BookingClient{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *BookingClient) Airports(ctx context.Context) ([]handler.AirportResponse, error) {
	var out []handler.AirportResponse
	err := c.do(ctx, http.MethodGet, "/airport", nil, &out)
	return out, err
}

func (c *BookingClient) FlightsByCountry(ctx context.Context, country string) ([]handler.FlightResponse, error) {
	var out []handler.FlightResponse
	err := c.do(ctx, http.MethodGet, "/flight/country/"+url.PathEscape(country), nil, &out)
	return out, err
}

func (c *BookingClient) FlightsByAirport(ctx context.Context, country, airportCode string) ([]handler.FlightResponse, error) {
	var out []handler.FlightResponse
	err := c.do(ctx, http.MethodGet, "/flight/"+url.PathEscape(country)+"/"+url.PathEscape(airportCode), nil, &out)
	return out, err
}

func (c *BookingClient) Book(ctx context.Context, req handler.BookRequest) (*handler.BookingResponse, error) {
	var out handler.BookingResponse
	if err := c.do(ctx, http.MethodPost, "/flight/book", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BookingClient) Cancel(ctx context.Context, req handler.CancelRequest) error {
	return c.do(ctx, http.MethodDelete, "/flight/cancel", req, nil)
}

func (c *BookingClient) GetBooking(ctx context.Context, id string) (*handler.BookingWithFlightResponse, error) {
	var out handler.BookingWithFlightResponse
	if err := c.do(ctx, http.MethodGet, "/booking/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BookingClient) ListBookings(ctx context.Context) ([]handler.BookingWithFlightResponse, error) {
	var out []handler.BookingWithFlightResponse
	err := c.do(ctx, http.MethodGet, "/booking/all", nil, &out)
	return out, err
}

func (c *BookingClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	id := identityFrom(ctx)
	if id.UserID != "" {
		req.Header.Set(middleware.HeaderUserID, id.UserID)
	}
	if id.Authorization != "" {
		req.Header.Set("Authorization", id.Authorization)
	}
	if br, ok := body.(handler.BookRequest); ok && br.IdempotencyKey != "" {
		req.Header.Set(middleware.HeaderIdempotencyKey, br.IdempotencyKey)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("予約APIの呼び出しに失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeRemoteError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスのデコードに失敗: %w", err)
	}
	return nil
}

func decodeRemoteError(resp *http.Response) error {
	remote := &RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			remote.Message = body.Error
		}
		remote.Kind = body.Kind
	}
	if remote.Kind == "" {
		remote.Kind = kindForStatus(resp.StatusCode)
	}
	return remote
}

// IsRemoteKind は err が指定した分類の RemoteError かを返す
func IsRemoteKind(err error, kind string) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Kind == kind
}
