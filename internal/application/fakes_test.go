package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/domain/reconciliation"
	"github.com/sanosuguru/go-flight-booking/internal/domain/transaction"
)

// memInventory は条件付き更新の契約（書き込みごとに version が変わる）を守るインメモリ在庫
type memInventory struct {
	mu      sync.Mutex
	flights map[flight.Key]*flight.Flight
	writes  int
	// updateHook が非 nil を返した場合、その呼び出しは書き込まずにエラーを返す
	updateHook func(key flight.Key, newSeats int) error
	// commitErr が非 nil なら書き込みを反映した上でこのエラーを返す（応答喪失の再現）
	commitErr error
	// findCalls は FindByKeys の呼び出し回数
	findCalls int
}

func newMemInventory(flights ...*flight.Flight) *memInventory {
	inv := &memInventory{flights: make(map[flight.Key]*flight.Flight)}
	for _, f := range flights {
		if f.Version == 0 {
			f.Version = 1
		}
		inv.flights[f.Key()] = f
	}
	return inv
}

func (m *memInventory) Get(_ context.Context, key flight.Key) (*flight.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flights[key]
	if !ok {
		return nil, flight.ErrFlightNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memInventory) ConditionalUpdate(_ context.Context, key flight.Key, newSeats int, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	hook := m.updateHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(key, newSeats); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flights[key]
	if !ok {
		return 0, flight.ErrFlightNotFound
	}
	if f.Version != expectedVersion {
		return 0, flight.ErrVersionConflict
	}
	if newSeats < 0 || newSeats > f.MaxCapacity {
		return 0, flight.ErrInvalidSeatCount
	}
	f.SeatsAvailable = newSeats
	f.Version++
	m.writes++
	if m.commitErr != nil {
		return 0, m.commitErr
	}
	return f.Version, nil
}

func (m *memInventory) ConditionalUpdateTx(ctx context.Context, _ transaction.Tx, key flight.Key, newSeats int, expectedVersion int64) (int64, error) {
	return m.ConditionalUpdate(ctx, key, newSeats, expectedVersion)
}

func (m *memInventory) FindByKeys(_ context.Context, keys []flight.Key) ([]*flight.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	var out []*flight.Flight
	for _, k := range keys {
		if f, ok := m.flights[k]; ok {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memInventory) seats(key flight.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flights[key].SeatsAvailable
}

func (m *memInventory) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// memLedger はインメモリの予約台帳
type memLedger struct {
	mu       sync.Mutex
	bookings map[string]*booking.Booking
	// createHook は Create の前に呼ばれる。persist=true なら書き込んだ上で err を返す（タイムアウトの再現）
	createHook func(b *booking.Booking) (persist bool, err error)
	getHook    func(id string) error
	markHook   func(id string) (persist bool, err error)
}

func newMemLedger() *memLedger {
	return &memLedger{bookings: make(map[string]*booking.Booking)}
}

func (l *memLedger) Create(_ context.Context, b *booking.Booking) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createHook != nil {
		persist, err := l.createHook(b)
		if persist {
			cp := *b
			l.bookings[b.ID] = &cp
		}
		if err != nil {
			return err
		}
	}
	if _, ok := l.bookings[b.ID]; ok {
		return booking.ErrDuplicateBooking
	}
	if b.IdempotencyKey != "" {
		for _, existing := range l.bookings {
			if existing.Username == b.Username && existing.IdempotencyKey == b.IdempotencyKey {
				return booking.ErrDuplicateBooking
			}
		}
	}
	cp := *b
	l.bookings[b.ID] = &cp
	return nil
}

func (l *memLedger) Get(_ context.Context, id, username string) (*booking.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getHook != nil {
		if err := l.getHook(id); err != nil {
			return nil, err
		}
	}
	b, ok := l.bookings[id]
	if !ok || b.Username != username {
		return nil, booking.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (l *memLedger) GetByIdempotencyKey(_ context.Context, username, key string) (*booking.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.bookings {
		if b.Username == username && b.IdempotencyKey == key {
			cp := *b
			return &cp, nil
		}
	}
	return nil, booking.ErrBookingNotFound
}

func (l *memLedger) ListByUser(_ context.Context, username string) ([]*booking.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*booking.Booking
	for _, b := range l.bookings {
		if b.Username == username {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *memLedger) MarkCancelled(_ context.Context, id, username string) (*booking.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[id]
	if l.markHook != nil {
		persist, err := l.markHook(id)
		if persist && ok {
			_ = b.Cancel()
		}
		if err != nil {
			return nil, err
		}
	}
	if !ok || b.Username != username || !b.IsReserved() {
		return nil, booking.ErrBookingNotFound
	}
	_ = b.Cancel()
	cp := *b
	return &cp, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bookings)
}

// put はテスト用に予約を直接登録する
func (l *memLedger) put(b *booking.Booking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *b
	l.bookings[b.ID] = &cp
}

// MockQueue は ReconciliationQueue のモック
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, t *reconciliation.Task) error {
	return m.Called(ctx, t).Error(0)
}

// MockPublisher は EventPublisher のモック
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishBookingEvent(ctx context.Context, e booking.Event) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockPublisher) PublishInconsistency(ctx context.Context, e *booking.InconsistencyError) error {
	return m.Called(ctx, e).Error(0)
}

// MockLocker は IdempotencyLocker のモック
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Lock(ctx context.Context, username, key string) (func(context.Context) error, error) {
	args := m.Called(ctx, username, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func(context.Context) error), args.Error(1)
}

// MockCache は AvailabilityCache のモック
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key flight.Key) (flight.Availability, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(flight.Availability), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key flight.Key, a flight.Availability, ttl time.Duration) error {
	return m.Called(ctx, key, a, ttl).Error(0)
}

func (m *MockCache) Invalidate(ctx context.Context, key flight.Key) error {
	return m.Called(ctx, key).Error(0)
}

// stubTx は Commit / Rollback の呼び出しだけを記録する
type stubTx struct {
	committed  bool
	rolledBack bool
}

func (t *stubTx) Commit() error   { t.committed = true; return nil }
func (t *stubTx) Rollback() error { t.rolledBack = true; return nil }

type stubTxManager struct {
	mu  sync.Mutex
	txs []*stubTx
}

func (m *stubTxManager) Begin(context.Context) (transaction.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &stubTx{}
	m.txs = append(m.txs, tx)
	return tx, nil
}

// MockTaskRepository は reconciliation.Repository のモック
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Enqueue(ctx context.Context, t *reconciliation.Task) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockTaskRepository) ListPending(ctx context.Context, limit int) ([]*reconciliation.Task, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reconciliation.Task), args.Error(1)
}

func (m *MockTaskRepository) ResolveTx(ctx context.Context, tx transaction.Tx, id int64) error {
	return m.Called(ctx, tx, id).Error(0)
}

func (m *MockTaskRepository) RecordAttempt(ctx context.Context, id int64, lastError string) error {
	return m.Called(ctx, id, lastError).Error(0)
}

func (m *MockTaskRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	return m.Called(ctx, id, lastError).Error(0)
}

// MockCatalog は flight.Catalog のモック
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) ListByCountry(ctx context.Context, country string) ([]*flight.Flight, error) {
	args := m.Called(ctx, country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*flight.Flight), args.Error(1)
}

func (m *MockCatalog) ListByDestination(ctx context.Context, country, airportCode string) ([]*flight.Flight, error) {
	args := m.Called(ctx, country, airportCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*flight.Flight), args.Error(1)
}
