package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	// 各テストで新しいレジストリを使用
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	require.NotNil(t, m)
	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
	assert.NotNil(t, m.BookingsTotal)
	assert.NotNil(t, m.SeatWriteConflicts)
	assert.NotNil(t, m.InconsistenciesTotal)
	assert.NotNil(t, m.ReconciliationTasksTotal)
	assert.NotNil(t, m.IdempotencyLockDuration)
}

func TestHTTPRequestsTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.HTTPRequestsTotal.WithLabelValues("GET", "/api/flight/country/:country", "200").Inc()
	m.HTTPRequestsTotal.WithLabelValues("POST", "/api/flight/book", "202").Inc()
	m.HTTPRequestsTotal.WithLabelValues("POST", "/api/flight/book", "400").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "http_requests_total" {
			found = true
			assert.Equal(t, 3, len(f.GetMetric()))
		}
	}
	assert.True(t, found, "http_requests_total metric not found")
}

func TestObserveBooking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveBooking("book", "success")
	m.ObserveBooking("book", "success")
	m.ObserveBooking("book", "capacity_exceeded")
	m.ObserveBooking("cancel", "not_found")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BookingsTotal.WithLabelValues("book", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BookingsTotal.WithLabelValues("cancel", "not_found")))
}

func TestObserveConflictAndInconsistency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveConflict("book")
	m.ObserveInconsistency("cancel")
	m.ObserveReconciliation("resolved")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SeatWriteConflicts.WithLabelValues("book")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InconsistenciesTotal.WithLabelValues("cancel")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReconciliationTasksTotal.WithLabelValues("resolved")))
}

func TestObserveLock(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveLock(time.Now().Add(-10*time.Millisecond), "success")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "idempotency_lock_duration_seconds" {
			found = true
		}
	}
	assert.True(t, found, "idempotency_lock_duration_seconds metric not found")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBooking("book", "success")
		m.ObserveConflict("book")
		m.ObserveInconsistency("book")
		m.ObserveReconciliation("failed")
		m.ObserveLock(time.Now(), "failed")
	})
}
