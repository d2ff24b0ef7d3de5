package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/sanosuguru/go-flight-booking/internal/api/handler"
)

// ToolHandler はツール呼び出しの実体
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool は公開するツールの定義
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	handler     ToolHandler
}

// Registry は起動時に組み立てる固定のツール一覧
type Registry struct {
	tools []Tool
	index map[string]int
}

type countryArgs struct {
	Country string `json:"country" validate:"required"`
}

type airportArgs struct {
	Country     string `json:"country" validate:"required"`
	AirportCode string `json:"airportCode" validate:"required"`
}

type bookArgs struct {
	Country        string `json:"country" validate:"required"`
	FlightCode     string `json:"flightCode" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=128"`
}

type cancelArgs struct {
	BookingID  string `json:"bookingId"`
	Country    string `json:"country" validate:"required_without=BookingID"`
	FlightCode string `json:"flightCode" validate:"required_without=BookingID"`
}

type bookingArgs struct {
	BookingID string `json:"bookingId" validate:"required"`
}

var validate = validator.New()

// NewRegistry は予約APIを呼び出すツールを登録したRegistryを作成する
func NewRegistry(client BookingAPI) *Registry {
	r := &Registry{index: make(map[string]int)}

	r.add(Tool{
		Name:        "get_airports",
		Description: "Get the list of airports that have flights available.",
		InputSchema: emptySchema,
		handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return client.Airports(ctx)
		},
	})
	r.add(Tool{
		Name:        "get_flights_by_country",
		Description: "Get the list of flights arriving in a country (Canada, USA, Mexico or France).",
		InputSchema: schema(`{"country":{"type":"string","description":"country code such as FR"}}`, "country"),
		handler: typed(func(ctx context.Context, a countryArgs) (any, error) {
			return client.FlightsByCountry(ctx, a.Country)
		}),
	})
	r.add(Tool{
		Name:        "get_flights_by_airport",
		Description: "Get the list of flights available in a country for a specific destination airport code such as YUL or NCE.",
		InputSchema: schema(`{"country":{"type":"string"},"airportCode":{"type":"string"}}`, "country", "airportCode"),
		handler: typed(func(ctx context.Context, a airportArgs) (any, error) {
			return client.FlightsByAirport(ctx, a.Country, a.AirportCode)
		}),
	})
	r.add(Tool{
		Name:        "book_flight",
		Description: "Book one seat on a flight for the calling user. Retrying with the same idempotencyKey returns the same booking.",
		InputSchema: schema(`{"country":{"type":"string"},"flightCode":{"type":"string"},"idempotencyKey":{"type":"string","maxLength":128}}`, "country", "flightCode"),
		handler: typed(func(ctx context.Context, a bookArgs) (any, error) {
			return client.Book(ctx, handler.BookRequest{Country: a.Country, FlightCode: a.FlightCode, IdempotencyKey: a.IdempotencyKey})
		}),
	})
	r.add(Tool{
		Name:        "cancel_flight",
		Description: "Cancel a booking of the calling user, either by bookingId or by the most recent active booking on country and flightCode.",
		InputSchema: schema(`{"bookingId":{"type":"string"},"country":{"type":"string"},"flightCode":{"type":"string"}}`),
		handler: typed(func(ctx context.Context, a cancelArgs) (any, error) {
			if err := client.Cancel(ctx, handler.CancelRequest{BookingID: a.BookingID, Country: a.Country, FlightCode: a.FlightCode}); err != nil {
				return nil, err
			}
			return map[string]bool{"cancelled": true}, nil
		}),
	})
	r.add(Tool{
		Name:        "get_booking",
		Description: "Get a booking of the calling user together with its flight details.",
		InputSchema: schema(`{"bookingId":{"type":"string"}}`, "bookingId"),
		handler: typed(func(ctx context.Context, a bookingArgs) (any, error) {
			return client.GetBooking(ctx, a.BookingID)
		}),
	})
	r.add(Tool{
		Name:        "list_bookings",
		Description: "List all bookings of the calling user together with their flight details.",
		InputSchema: emptySchema,
		handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return client.ListBookings(ctx)
		},
	})
	return r
}

func (r *Registry) add(t Tool) {
	if _, dup := r.index[t.Name]; dup {
		panic("gateway: duplicate tool " + t.Name)
	}
	r.index[t.Name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// List は登録順のツール一覧を返す
func (r *Registry) List() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Call は名前でツールを呼び出す
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, newRPCError(CodeInvalidParams, "invalid_argument", "unknown tool: %s", name)
	}
	return r.tools[i].handler(ctx, args)
}

// typed は引数をデコードして検証してから fn を呼ぶハンドラーを作る
func typed[T any](fn func(context.Context, T) (any, error)) ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args T
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&args); err != nil {
				return nil, newRPCError(CodeInvalidParams, "invalid_argument", "invalid arguments: %v", err)
			}
		}
		if err := validate.Struct(args); err != nil {
			return nil, newRPCError(CodeInvalidParams, "invalid_argument", "invalid arguments: %v", err)
		}
		return fn(ctx, args)
	}
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

func schema(properties string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	if len(required) == 0 {
		req = []byte("[]")
	}
	return json.RawMessage(fmt.Sprintf(`{"type":"object","properties":%s,"required":%s}`, properties, req))
}
