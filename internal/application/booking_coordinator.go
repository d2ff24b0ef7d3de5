package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/domain/reconciliation"
	redisinfra "github.com/sanosuguru/go-flight-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/metrics"
)

var tracer = otel.Tracer("github.com/sanosuguru/go-flight-booking/internal/application")

// IdempotencyLocker は同じ冪等性キーの予約を直列化する
type IdempotencyLocker interface {
	Lock(ctx context.Context, username, idempotencyKey string) (func(context.Context) error, error)
}

// AvailabilityCache は空席状況のキャッシュ
type AvailabilityCache interface {
	Get(ctx context.Context, key flight.Key) (flight.Availability, error)
	Set(ctx context.Context, key flight.Key, a flight.Availability, ttl time.Duration) error
	Invalidate(ctx context.Context, key flight.Key) error
}

// EventPublisher は予約イベントと不整合アラートの配信先
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, e booking.Event) error
	PublishInconsistency(ctx context.Context, e *booking.InconsistencyError) error
}

// ReconciliationQueue は不整合の修復タスクを登録する
type ReconciliationQueue interface {
	Enqueue(ctx context.Context, t *reconciliation.Task) error
}

// errSeatWriteUnknown は条件付き更新の結果が不明（タイムアウト等）であることを表す
var errSeatWriteUnknown = errors.New("座席カウンターへの書き込み結果が不明です")

// BookingCoordinator は座席在庫と予約台帳を、分散トランザクションなしで整合させる。
// 在庫を先に更新し、台帳への書き込みに失敗した場合は補償する。
// 補償にも失敗した場合は *booking.InconsistencyError を返し、修復キューに登録する
type BookingCoordinator struct {
	inventory   flight.Inventory
	ledger      booking.Ledger
	log         *zap.Logger
	locker      IdempotencyLocker
	cache       AvailabilityCache
	queue       ReconciliationQueue
	publisher   EventPublisher
	metrics     *metrics.Metrics
	retry       RetryPolicy
	callTimeout time.Duration
}

// CoordinatorOption は BookingCoordinator の任意設定
type CoordinatorOption func(*BookingCoordinator)

func WithIdempotencyLocker(l IdempotencyLocker) CoordinatorOption {
	return func(c *BookingCoordinator) { c.locker = l }
}

func WithAvailabilityCache(cache AvailabilityCache) CoordinatorOption {
	return func(c *BookingCoordinator) { c.cache = cache }
}

func WithReconciliationQueue(q ReconciliationQueue) CoordinatorOption {
	return func(c *BookingCoordinator) { c.queue = q }
}

func WithEventPublisher(p EventPublisher) CoordinatorOption {
	return func(c *BookingCoordinator) { c.publisher = p }
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *BookingCoordinator) { c.metrics = m }
}

func WithRetryPolicy(p RetryPolicy) CoordinatorOption {
	return func(c *BookingCoordinator) { c.retry = p.normalized() }
}

// WithCallTimeout はストア呼び出しごとのタイムアウトを設定する（0 は呼び出し元の期限のみ）
func WithCallTimeout(d time.Duration) CoordinatorOption {
	return func(c *BookingCoordinator) { c.callTimeout = d }
}

func NewBookingCoordinator(inv flight.Inventory, ledger booking.Ledger, log *zap.Logger, opts ...CoordinatorOption) *BookingCoordinator {
	c := &BookingCoordinator{
		inventory:   inv,
		ledger:      ledger,
		log:         logger.OrNop(log),
		retry:       DefaultRetryPolicy(),
		callTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BookInput は予約リクエスト
type BookInput struct {
	Country        string
	FlightCode     string
	Username       string
	IdempotencyKey string
}

func (in BookInput) key() flight.Key {
	return flight.Key{Country: in.Country, FlightCode: in.FlightCode}
}

// Book は座席を1つ確保し、予約台帳にレコードを作成する
func (c *BookingCoordinator) Book(ctx context.Context, in BookInput) (b *booking.Booking, err error) {
	ctx, span := c.startSpan(ctx, "BookingCoordinator.Book", in.key(), in.Username)
	defer func() { c.finish(span, booking.OperationBook, err) }()

	if in.Country == "" || in.FlightCode == "" || in.Username == "" {
		return nil, fmt.Errorf("%w: 国・便コード・ユーザー名は必須です", booking.ErrInvalidArgument)
	}

	if in.IdempotencyKey != "" {
		release, err := c.lockIdempotencyKey(ctx, in.Username, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				c.log.Warn("冪等性ロックの解放に失敗", zap.String("idempotency_key", in.IdempotencyKey), zap.Error(rerr))
			}
		}()

		existing, err := c.findByIdempotencyKey(ctx, in.Username, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.FlightKey() != in.key() {
				return nil, fmt.Errorf("%w: 冪等性キーは別のフライトの予約で使用済みです", booking.ErrInvalidArgument)
			}
			c.log.Info("冪等性キーにより既存の予約を返します", zap.String("booking_id", existing.ID))
			return existing, nil
		}
	}

	key := in.key()
	if _, err := c.adjustSeats(ctx, key, flight.OperationReserve); err != nil {
		if errors.Is(err, errSeatWriteUnknown) {
			// 減算が反映されている可能性がある。予約は作成しないため手動確認に回す
			return nil, c.reportInconsistency(ctx, &booking.InconsistencyError{
				Operation: booking.OperationBook, Flight: key, Username: in.Username,
				SeatDelta: 1, Review: true, Cause: err,
			})
		}
		return nil, err
	}

	nb := booking.NewBooking(key, in.Username, in.IdempotencyKey)
	createErr := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.ledger.Create(ctx, nb)
	})
	if createErr == nil {
		c.publish(ctx, booking.NewEvent(booking.EventReserved, nb))
		return nb, nil
	}
	return c.compensateBook(ctx, nb, createErr)
}

// compensateBook は座席の減算後に台帳の書き込みが失敗した場合の処理。
// タイムアウトは「書き込まれなかった」とは限らないため、先に台帳を確認する
func (c *BookingCoordinator) compensateBook(ctx context.Context, nb *booking.Booking, createErr error) (*booking.Booking, error) {
	// 呼び出し元のキャンセルで補償が中断されないようにする
	cctx := context.WithoutCancel(ctx)
	log := c.log.With(zap.String("booking_id", nb.ID), zap.Stringer("flight", nb.FlightKey()), zap.String("username", nb.Username))
	log.Warn("予約台帳への書き込みに失敗したため補償します", zap.Error(createErr))

	// 同じ冪等性キーの予約が並行して作成済み: そちらを正とし、今回の座席を戻す
	if errors.Is(createErr, booking.ErrDuplicateBooking) && nb.IdempotencyKey != "" {
		existing, err := c.findByIdempotencyKey(cctx, nb.Username, nb.IdempotencyKey)
		if err == nil && existing != nil {
			if _, rerr := c.adjustSeats(cctx, nb.FlightKey(), flight.OperationRelease); rerr != nil {
				return nil, c.reportInconsistency(ctx, c.bookInconsistency(nb, rerr, createErr))
			}
			return existing, nil
		}
	}

	var found *booking.Booking
	lookupErr := c.withTimeout(cctx, func(ctx context.Context) error {
		var err error
		found, err = c.ledger.Get(ctx, nb.ID, nb.Username)
		return err
	})
	if lookupErr == nil && found.IsReserved() {
		log.Info("書き込みエラー後に予約の作成を確認しました")
		c.publish(ctx, booking.NewEvent(booking.EventReserved, found))
		return found, nil
	}

	if _, rerr := c.adjustSeats(cctx, nb.FlightKey(), flight.OperationRelease); rerr != nil {
		return nil, c.reportInconsistency(ctx, c.bookInconsistency(nb, rerr, createErr))
	}

	if lookupErr != nil && !errors.Is(lookupErr, booking.ErrNotFound) {
		// 台帳の状態が不明: 遅れて書き込まれたレコードが座席なしで残らないようキャンセル済みにする
		err := c.withTimeout(cctx, func(ctx context.Context) error {
			_, err := c.ledger.MarkCancelled(ctx, nb.ID, nb.Username)
			return err
		})
		if err != nil && !errors.Is(err, booking.ErrNotFound) {
			return nil, c.reportInconsistency(ctx, &booking.InconsistencyError{
				Operation: booking.OperationBook, Flight: nb.FlightKey(), BookingID: nb.ID,
				Username: nb.Username, Review: true, Cause: errors.Join(createErr, lookupErr, err),
			})
		}
	}

	log.Info("座席を戻しました")
	return nil, fmt.Errorf("予約台帳への書き込みに失敗: %w", createErr)
}

func (c *BookingCoordinator) bookInconsistency(nb *booking.Booking, releaseErr, createErr error) *booking.InconsistencyError {
	return &booking.InconsistencyError{
		Operation: booking.OperationBook,
		Flight:    nb.FlightKey(),
		BookingID: nb.ID,
		Username:  nb.Username,
		SeatDelta: 1,
		Review:    needsReview(releaseErr),
		Cause:     errors.Join(createErr, releaseErr),
	}
}

// Cancel は予約をキャンセルし、座席を1つ戻す。
// 同じ予約を2回キャンセルしても座席は1回しか戻らない（2回目は NotFound）
func (c *BookingCoordinator) Cancel(ctx context.Context, bookingID, username string) (b *booking.Booking, err error) {
	ctx, span := c.startSpan(ctx, "BookingCoordinator.Cancel", flight.Key{}, username)
	span.SetAttributes(attribute.String("booking.id", bookingID))
	defer func() { c.finish(span, booking.OperationCancel, err) }()

	if bookingID == "" || username == "" {
		return nil, fmt.Errorf("%w: 予約IDとユーザー名は必須です", booking.ErrInvalidArgument)
	}

	current, err := c.getBooking(ctx, bookingID, username)
	if err != nil {
		return nil, err
	}
	if !current.IsReserved() {
		return nil, fmt.Errorf("%w: %w", booking.ErrNotFound, booking.ErrAlreadyCancelled)
	}
	key := current.FlightKey()
	span.SetAttributes(attribute.String("flight.key", key.String()))

	// 台帳を変更する前に解放可能かを確認する
	seat, err := c.getSeat(ctx, key)
	if err != nil {
		return nil, err
	}
	if !flight.CanRelease(seat.SeatsAvailable, seat.MaxCapacity) {
		return nil, c.reportInconsistency(ctx, &booking.InconsistencyError{
			Operation: booking.OperationCancel, Flight: key, BookingID: bookingID,
			Username: username, Review: true, Cause: flight.ErrAtMaxCapacity,
		})
	}

	// 台帳の更新後は呼び出し元のキャンセルで中断しない
	cctx := context.WithoutCancel(ctx)
	var cancelled *booking.Booking
	markErr := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		cancelled, err = c.ledger.MarkCancelled(ctx, bookingID, username)
		return err
	})
	switch {
	case markErr == nil:
	case errors.Is(markErr, booking.ErrNotFound):
		// 読み取り後に他のリクエストがキャンセルした
		return nil, markErr
	default:
		// 更新が反映されたかを確認する
		after, err := c.getBooking(cctx, bookingID, username)
		if err != nil {
			return nil, c.reportInconsistency(ctx, &booking.InconsistencyError{
				Operation: booking.OperationCancel, Flight: key, BookingID: bookingID,
				Username: username, Review: true, Cause: errors.Join(markErr, err),
			})
		}
		if after.IsReserved() {
			return nil, fmt.Errorf("予約のキャンセルに失敗: %w", markErr)
		}
		cancelled = after
	}

	if _, err := c.adjustSeats(cctx, key, flight.OperationRelease); err != nil {
		return nil, c.reportInconsistency(ctx, &booking.InconsistencyError{
			Operation: booking.OperationCancel, Flight: key, BookingID: bookingID,
			Username: username, SeatDelta: 1, Review: needsReview(err), Cause: err,
		})
	}

	c.publish(ctx, booking.NewEvent(booking.EventCancelled, cancelled))
	return cancelled, nil
}

// CancelByFlight はフライト上のユーザーの最新の有効な予約をキャンセルする
func (c *BookingCoordinator) CancelByFlight(ctx context.Context, key flight.Key, username string) (*booking.Booking, error) {
	if key.Country == "" || key.FlightCode == "" || username == "" {
		return nil, fmt.Errorf("%w: 国・便コード・ユーザー名は必須です", booking.ErrInvalidArgument)
	}
	bookings, err := c.ListBookings(ctx, username)
	if err != nil {
		return nil, err
	}
	// ListBookings は新しい順
	for _, b := range bookings {
		if b.IsReserved() && b.FlightKey() == key {
			return c.Cancel(ctx, b.ID, username)
		}
	}
	return nil, booking.ErrBookingNotFound
}

// GetBooking はユーザーのパーティションから予約を取得する
func (c *BookingCoordinator) GetBooking(ctx context.Context, id, username string) (*booking.Booking, error) {
	return c.getBooking(ctx, id, username)
}

// ListBookings はユーザーの予約一覧を新しい順に返す
func (c *BookingCoordinator) ListBookings(ctx context.Context, username string) ([]*booking.Booking, error) {
	var bookings []*booking.Booking
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		bookings, err = c.ledger.ListByUser(ctx, username)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	return bookings, nil
}

// adjustSeats は op を楽観的ロックで適用し、更新後のフライトを返す。
// バージョン競合の場合のみ再読込してリトライし、業務ルール違反は即座に返す
func (c *BookingCoordinator) adjustSeats(ctx context.Context, key flight.Key, op flight.Operation) (*flight.Flight, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.retry.Backoff(attempt-1)); err != nil {
				return nil, fmt.Errorf("%w: %w", booking.ErrConcurrencyConflict, err)
			}
		}

		// 判定は毎回読み直した状態に対して行う
		f, err := c.getSeat(ctx, key)
		if err != nil {
			return nil, err
		}
		newSeats, err := flight.Decide(op, f.SeatsAvailable, f.MaxCapacity)
		if err != nil {
			if errors.Is(err, flight.ErrNoSeatsAvailable) || errors.Is(err, flight.ErrAtMaxCapacity) {
				return nil, fmt.Errorf("%w: %w", booking.ErrCapacityExceeded, err)
			}
			return nil, err
		}

		var version int64
		err = c.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			version, err = c.inventory.ConditionalUpdate(ctx, key, newSeats, f.Version)
			return err
		})
		switch {
		case err == nil:
			f.SeatsAvailable, f.Version = newSeats, version
			c.invalidate(ctx, key)
			return f, nil
		case errors.Is(err, flight.ErrVersionConflict):
			c.metrics.ObserveConflict(string(op))
			c.log.Debug("座席カウンターの競合を検出", zap.Stringer("flight", key), zap.Int("attempt", attempt+1))
			lastErr = err
		case errors.Is(err, flight.ErrFlightNotFound):
			return nil, fmt.Errorf("%w: %w", booking.ErrNotFound, err)
		case errors.Is(err, flight.ErrInvalidSeatCount):
			// ストア側の制約違反: 書き込みは行われていない
			return nil, fmt.Errorf("%w: %w", booking.ErrCapacityExceeded, err)
		default:
			return nil, c.classifyWriteFailure(ctx, key, f.Version, err)
		}
	}
	return nil, fmt.Errorf("%w: %d回試行: %w", booking.ErrConcurrencyConflict, c.retry.MaxAttempts, lastErr)
}

// classifyWriteFailure は結果不明の書き込みを再読込で判定する。
// version が変わっていなければ書き込みは反映されていない
func (c *BookingCoordinator) classifyWriteFailure(ctx context.Context, key flight.Key, expectedVersion int64, cause error) error {
	var cur *flight.Flight
	err := c.withTimeout(context.WithoutCancel(ctx), func(ctx context.Context) error {
		var err error
		cur, err = c.inventory.Get(ctx, key)
		return err
	})
	if err == nil && cur.Version == expectedVersion {
		return fmt.Errorf("座席カウンターの更新に失敗: %w", cause)
	}
	if err != nil {
		c.log.Warn("座席カウンターの再読込に失敗", zap.Stringer("flight", key), zap.Error(err))
	}
	return fmt.Errorf("%w: %w", errSeatWriteUnknown, cause)
}

// needsReview は自動修復（+1 の再適用）してよいかを判定する
func needsReview(err error) bool {
	return errors.Is(err, errSeatWriteUnknown) || errors.Is(err, booking.ErrCapacityExceeded)
}

func (c *BookingCoordinator) getSeat(ctx context.Context, key flight.Key) (*flight.Flight, error) {
	var f *flight.Flight
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		f, err = c.inventory.Get(ctx, key)
		return err
	})
	if err != nil {
		if errors.Is(err, flight.ErrFlightNotFound) {
			return nil, fmt.Errorf("%w: %w", booking.ErrNotFound, err)
		}
		return nil, fmt.Errorf("座席情報の取得に失敗: %w", err)
	}
	return f, nil
}

func (c *BookingCoordinator) getBooking(ctx context.Context, id, username string) (*booking.Booking, error) {
	var b *booking.Booking
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		b, err = c.ledger.Get(ctx, id, username)
		return err
	})
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return b, nil
}

// findByIdempotencyKey は存在しない場合 nil, nil を返す
func (c *BookingCoordinator) findByIdempotencyKey(ctx context.Context, username, key string) (*booking.Booking, error) {
	var b *booking.Booking
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		b, err = c.ledger.GetByIdempotencyKey(ctx, username, key)
		return err
	})
	if errors.Is(err, booking.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("冪等性チェックに失敗: %w", err)
	}
	return b, nil
}

func (c *BookingCoordinator) lockIdempotencyKey(ctx context.Context, username, key string) (func(context.Context) error, error) {
	if c.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	start := time.Now()
	release, err := c.locker.Lock(ctx, username, key)
	if err != nil {
		c.metrics.ObserveLock(start, "failed")
		if errors.Is(err, redisinfra.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: 同じ冪等性キーのリクエストを処理中です", booking.ErrConcurrencyConflict)
		}
		// ロックなしで続行する。重複は台帳の一意インデックスで検出される
		c.log.Warn("冪等性ロックを取得できないためロックなしで続行します",
			zap.String("idempotency_key", key), zap.Error(err))
		return func(context.Context) error { return nil }, nil
	}
	c.metrics.ObserveLock(start, "success")
	return release, nil
}

// reportInconsistency は不整合を記録し、修復キューとアラートに送る。返り値は常に e
func (c *BookingCoordinator) reportInconsistency(ctx context.Context, e *booking.InconsistencyError) error {
	rctx := context.WithoutCancel(ctx)
	c.log.Error("在庫と予約台帳の不整合を検出しました",
		zap.String("operation", string(e.Operation)),
		zap.String("country", e.Flight.Country),
		zap.String("flight_code", e.Flight.FlightCode),
		zap.String("booking_id", e.BookingID),
		zap.String("username", e.Username),
		zap.Int("seat_delta", e.SeatDelta),
		zap.Bool("review", e.Review),
		zap.NamedError("cause", e.Cause),
	)
	c.metrics.ObserveInconsistency(string(e.Operation))

	if c.queue != nil {
		task := reconciliation.NewTask(e)
		if err := c.withTimeout(rctx, func(ctx context.Context) error { return c.queue.Enqueue(ctx, task) }); err != nil {
			c.log.Error("修復タスクの登録に失敗", zap.String("booking_id", e.BookingID), zap.Error(err))
		}
	}
	if c.publisher != nil {
		if err := c.withTimeout(rctx, func(ctx context.Context) error { return c.publisher.PublishInconsistency(ctx, e) }); err != nil {
			c.log.Warn("不整合アラートの配信に失敗", zap.String("booking_id", e.BookingID), zap.Error(err))
		}
	}
	return e
}

func (c *BookingCoordinator) publish(ctx context.Context, e booking.Event) {
	if c.publisher == nil {
		return
	}
	pctx := context.WithoutCancel(ctx)
	if err := c.withTimeout(pctx, func(ctx context.Context) error { return c.publisher.PublishBookingEvent(ctx, e) }); err != nil {
		c.log.Warn("予約イベントの配信に失敗", zap.String("type", string(e.Type)), zap.String("booking_id", e.BookingID), zap.Error(err))
	}
}

func (c *BookingCoordinator) invalidate(ctx context.Context, key flight.Key) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(context.WithoutCancel(ctx), key); err != nil {
		c.log.Warn("空席キャッシュの無効化に失敗", zap.Stringer("flight", key), zap.Error(err))
	}
}

// withTimeout はストア呼び出しごとに期限を設定する
func (c *BookingCoordinator) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	return callWithTimeout(ctx, c.callTimeout, fn)
}

// callWithTimeout は d > 0 のとき呼び出しごとの期限を付けて fn を実行する
func callWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func (c *BookingCoordinator) startSpan(ctx context.Context, name string, key flight.Key, username string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if key.Country != "" {
		span.SetAttributes(attribute.String("flight.key", key.String()))
	}
	span.SetAttributes(attribute.String("booking.username", username))
	return ctx, span
}

func (c *BookingCoordinator) finish(span trace.Span, op booking.Operation, err error) {
	c.metrics.ObserveBooking(string(op), resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, booking.Kind(err))
	}
	span.End()
}

func resultLabel(err error) string {
	switch booking.Kind(err) {
	case "":
		return "success"
	case "capacity_exceeded":
		return "capacity_exceeded"
	case "not_found":
		return "not_found"
	case "concurrency_conflict":
		return "conflict"
	case "inconsistent_state":
		return "inconsistent"
	default:
		return "error"
	}
}
