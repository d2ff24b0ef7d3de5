package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 予約操作の総数（operation: book/cancel, result: success, capacity_exceeded, not_found, conflict, inconsistent, error）
	BookingsTotal *prometheus.CounterVec

	// 座席カウンターの楽観的ロック競合数（operation）
	SeatWriteConflicts *prometheus.CounterVec

	// 検出された不整合の数（operation）
	InconsistenciesTotal *prometheus.CounterVec

	// 修復タスクの処理結果（result: resolved, retry, failed）
	ReconciliationTasksTotal *prometheus.CounterVec

	// 冪等性ロックの取得時間（status: success/failed）
	IdempotencyLockDuration *prometheus.HistogramVec
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		BookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookings_total",
				Help: "Total number of booking coordinator operations",
			},
			[]string{"operation", "result"},
		),
		SeatWriteConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_write_conflicts_total",
				Help: "Optimistic concurrency conflicts observed on seat counters",
			},
			[]string{"operation"},
		),
		InconsistenciesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inconsistencies_total",
				Help: "Detected inventory/ledger inconsistencies",
			},
			[]string{"operation"},
		),
		ReconciliationTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_tasks_total",
				Help: "Reconciliation task outcomes",
			},
			[]string{"result"},
		),
		IdempotencyLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idempotency_lock_duration_seconds",
				Help:    "Time spent acquiring idempotency locks",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"status"},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BookingsTotal,
		m.SeatWriteConflicts,
		m.InconsistenciesTotal,
		m.ReconciliationTasksTotal,
		m.IdempotencyLockDuration,
	)

	return m
}

// 以下のヘルパーは nil レシーバーでも安全に呼べる（メトリクス無効時）

// ObserveBooking は予約操作の結果を記録する
func (m *Metrics) ObserveBooking(operation, result string) {
	if m == nil {
		return
	}
	m.BookingsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveConflict は楽観的ロック競合を記録する
func (m *Metrics) ObserveConflict(operation string) {
	if m == nil {
		return
	}
	m.SeatWriteConflicts.WithLabelValues(operation).Inc()
}

// ObserveInconsistency は不整合の検出を記録する
func (m *Metrics) ObserveInconsistency(operation string) {
	if m == nil {
		return
	}
	m.InconsistenciesTotal.WithLabelValues(operation).Inc()
}

// ObserveReconciliation は修復タスクの結果を記録する
func (m *Metrics) ObserveReconciliation(result string) {
	if m == nil {
		return
	}
	m.ReconciliationTasksTotal.WithLabelValues(result).Inc()
}

// ObserveLock は冪等性ロックの取得時間を記録する
func (m *Metrics) ObserveLock(start time.Time, status string) {
	if m == nil {
		return
	}
	m.IdempotencyLockDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
