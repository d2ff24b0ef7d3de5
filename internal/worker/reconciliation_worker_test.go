package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sanosuguru/go-flight-booking/internal/application"
)

// MockReconciler はPendingReconcilerのモック
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) ReconcilePending(ctx context.Context, limit int) (application.ReconcileResult, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(application.ReconcileResult), args.Error(1)
}

func TestNewReconciliationWorker(t *testing.T) {
	w := NewReconciliationWorker(new(MockReconciler), time.Minute, 0, nil)

	assert.NotNil(t, w)
	assert.Equal(t, time.Minute, w.interval)
	assert.Equal(t, 50, w.batchSize)
	assert.NotNil(t, w.stopCh)
	assert.NotNil(t, w.doneCh)
}

func TestReconciliationWorker_RunOnce(t *testing.T) {
	t.Run("修復結果をログに残す", func(t *testing.T) {
		r := new(MockReconciler)
		r.On("ReconcilePending", mock.Anything, 10).Return(application.ReconcileResult{Resolved: 2, Failed: 1}, nil)
		core, logs := observer.New(zapcore.InfoLevel)
		w := NewReconciliationWorker(r, time.Minute, 10, zap.New(core))

		w.runOnce(context.Background())

		r.AssertExpectations(t)
		assert.Equal(t, 1, logs.FilterMessage("不整合の修復を実行").Len())
	})

	t.Run("修復対象がない場合も正常に動作する", func(t *testing.T) {
		r := new(MockReconciler)
		r.On("ReconcilePending", mock.Anything, 10).Return(application.ReconcileResult{}, nil)
		w := NewReconciliationWorker(r, time.Minute, 10, nil)

		w.runOnce(context.Background())

		r.AssertExpectations(t)
	})

	t.Run("エラーが発生しても継続する", func(t *testing.T) {
		r := new(MockReconciler)
		r.On("ReconcilePending", mock.Anything, 10).Return(application.ReconcileResult{}, assert.AnError)
		core, logs := observer.New(zapcore.ErrorLevel)
		w := NewReconciliationWorker(r, time.Minute, 10, zap.New(core))

		w.runOnce(context.Background())

		r.AssertExpectations(t)
		assert.Equal(t, 1, logs.Len())
	})
}

func TestReconciliationWorker_StartStop(t *testing.T) {
	t.Run("開始と停止が正常に動作する", func(t *testing.T) {
		r := new(MockReconciler)
		r.On("ReconcilePending", mock.Anything, 5).Return(application.ReconcileResult{}, nil)
		w := NewReconciliationWorker(r, 20*time.Millisecond, 5, nil)

		go w.Start(context.Background())
		time.Sleep(70 * time.Millisecond)
		w.Stop()

		select {
		case <-w.doneCh:
		case <-time.After(time.Second):
			t.Error("worker did not stop in time")
		}
		r.AssertCalled(t, "ReconcilePending", mock.Anything, 5)
	})

	t.Run("コンテキストキャンセルで停止する", func(t *testing.T) {
		r := new(MockReconciler)
		r.On("ReconcilePending", mock.Anything, 5).Return(application.ReconcileResult{}, nil).Maybe()
		w := NewReconciliationWorker(r, 50*time.Millisecond, 5, nil)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			w.Start(ctx)
			close(done)
		}()
		time.Sleep(30 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("worker did not stop after context cancel")
		}
		// 停止後の Stop はブロックしない
		w.Stop()
	})
}
