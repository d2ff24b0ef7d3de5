package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
)

type bookingDocument struct {
	ID             string     `bson:"_id"`
	Username       string     `bson:"username"`
	Country        string     `bson:"country"`
	FlightCode     string     `bson:"flight_code"`
	IdempotencyKey string     `bson:"idempotency_key,omitempty"`
	Status         string     `bson:"status"`
	CreatedAt      time.Time  `bson:"created_at"`
	CancelledAt    *time.Time `bson:"cancelled_at,omitempty"`
}

func fromEntity(b *booking.Booking) *bookingDocument {
	return &bookingDocument{
		ID: b.ID, Username: b.Username, Country: b.Country, FlightCode: b.FlightCode,
		IdempotencyKey: b.IdempotencyKey, Status: string(b.Status),
		CreatedAt: b.CreatedAt, CancelledAt: b.CancelledAt,
	}
}

func (d *bookingDocument) toEntity() *booking.Booking {
	return &booking.Booking{
		ID: d.ID, Username: d.Username, Country: d.Country, FlightCode: d.FlightCode,
		IdempotencyKey: d.IdempotencyKey, Status: booking.Status(d.Status),
		CreatedAt: d.CreatedAt, CancelledAt: d.CancelledAt,
	}
}

// BookingLedger は予約台帳の MongoDB 実装。
// すべてのクエリは username（パーティションキー）で絞り込む
type BookingLedger struct {
	coll *mongo.Collection
}

func NewBookingLedger(db *mongo.Database, collection string) *BookingLedger {
	return &BookingLedger{coll: db.Collection(collection)}
}

// EnsureIndexes はパーティションスキャン用と冪等性キー一意制約のインデックスを作成する
func (l *BookingLedger) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("username_created_at"),
		},
		{
			Keys: bson.D{{Key: "username", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().
				SetName("username_idempotency_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "idempotency_key", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	}
	if _, err := l.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("インデックス作成に失敗: %w", err)
	}
	return nil
}

func (l *BookingLedger) Create(ctx context.Context, b *booking.Booking) error {
	if _, err := l.coll.InsertOne(ctx, fromEntity(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return booking.ErrDuplicateBooking
		}
		return fmt.Errorf("予約作成に失敗: %w", err)
	}
	return nil
}

func (l *BookingLedger) Get(ctx context.Context, id, username string) (*booking.Booking, error) {
	return l.findOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "username", Value: username}})
}

func (l *BookingLedger) GetByIdempotencyKey(ctx context.Context, username, key string) (*booking.Booking, error) {
	return l.findOne(ctx, bson.D{{Key: "username", Value: username}, {Key: "idempotency_key", Value: key}})
}

func (l *BookingLedger) findOne(ctx context.Context, filter bson.D) (*booking.Booking, error) {
	var doc bookingDocument
	if err := l.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return doc.toEntity(), nil
}

func (l *BookingLedger) ListByUser(ctx context.Context, username string) ([]*booking.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := l.coll.Find(ctx, bson.D{{Key: "username", Value: username}}, opts)
	if err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	var docs []bookingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("予約一覧の読み取りに失敗: %w", err)
	}
	bookings := make([]*booking.Booking, len(docs))
	for i := range docs {
		bookings[i] = docs[i].toEntity()
	}
	return bookings, nil
}

// MarkCancelled は status=reserved の場合のみ更新する。更新後のドキュメントを返す
func (l *BookingLedger) MarkCancelled(ctx context.Context, id, username string) (*booking.Booking, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "username", Value: username},
		{Key: "status", Value: string(booking.StatusReserved)},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: string(booking.StatusCancelled)},
		{Key: "cancelled_at", Value: time.Now().UTC()},
	}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc bookingDocument
	if err := l.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, fmt.Errorf("予約キャンセルに失敗: %w", err)
	}
	return doc.toEntity(), nil
}

var _ booking.Ledger = (*BookingLedger)(nil)
