package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/config"
	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
)

// messageWriter は kafka.Writer のうち利用するメソッド
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// inconsistencyAlert は不整合アラートのペイロード
type inconsistencyAlert struct {
	Operation  string    `json:"operation"`
	Country    string    `json:"country"`
	FlightCode string    `json:"flightCode"`
	BookingID  string    `json:"bookingId"`
	Username   string    `json:"username"`
	SeatDelta  int       `json:"seatDelta"`
	Review     bool      `json:"review"`
	Cause      string    `json:"cause"`
	DetectedAt time.Time `json:"detectedAt"`
}

// EventPublisher は予約イベントと不整合アラートを Kafka に配信する。
// ブローカー未設定の場合は何もしない
type EventPublisher struct {
	writer             messageWriter
	bookingEventsTopic string
	inconsistencyTopic string
	log                *zap.Logger
}

// NewEventPublisher は設定から Publisher を作成する
func NewEventPublisher(cfg *config.KafkaConfig, log *zap.Logger) *EventPublisher {
	p := &EventPublisher{
		bookingEventsTopic: cfg.BookingEventsTopic,
		inconsistencyTopic: cfg.InconsistencyTopic,
		log:                log,
	}
	if cfg.Enabled() {
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           cfg.WriteTimeout,
		}
	}
	return p
}

func newEventPublisherWithWriter(w messageWriter, bookingEventsTopic, inconsistencyTopic string, log *zap.Logger) *EventPublisher {
	return &EventPublisher{writer: w, bookingEventsTopic: bookingEventsTopic, inconsistencyTopic: inconsistencyTopic, log: log}
}

// PublishBookingEvent は予約イベントをユーザー名をキーとして配信する
func (p *EventPublisher) PublishBookingEvent(ctx context.Context, e booking.Event) error {
	return p.publish(ctx, p.bookingEventsTopic, e.Username, string(e.Type), e)
}

// PublishInconsistency は不整合アラートをフライトをキーとして配信する
func (p *EventPublisher) PublishInconsistency(ctx context.Context, e *booking.InconsistencyError) error {
	alert := inconsistencyAlert{
		Operation:  string(e.Operation),
		Country:    e.Flight.Country,
		FlightCode: e.Flight.FlightCode,
		BookingID:  e.BookingID,
		Username:   e.Username,
		SeatDelta:  e.SeatDelta,
		Review:     e.Review,
		DetectedAt: time.Now().UTC(),
	}
	if e.Cause != nil {
		alert.Cause = e.Cause.Error()
	}
	return p.publish(ctx, p.inconsistencyTopic, e.Flight.String(), "booking.inconsistency", alert)
}

func (p *EventPublisher) publish(ctx context.Context, topic, key, eventType string, payload any) error {
	if p.writer == nil {
		return nil
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("イベント配信に失敗: topic=%s: %w", topic, err)
	}
	if p.log != nil {
		p.log.Debug("イベントを配信しました", zap.String("topic", topic), zap.String("event_type", eventType))
	}
	return nil
}

// Close は Writer を閉じる
func (p *EventPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// headerCarrier はトレースコンテキストを Kafka ヘッダーに書き込む
type headerCarrier struct {
	msg *kafka.Message
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}
