package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/application"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
)

// PendingReconciler は修復キューの pending タスクを処理するインターフェース
type PendingReconciler interface {
	ReconcilePending(ctx context.Context, limit int) (application.ReconcileResult, error)
}

// ReconciliationWorker は一定間隔で不整合の修復を実行するワーカー
type ReconciliationWorker struct {
	reconciler PendingReconciler
	interval   time.Duration
	batchSize  int
	log        *zap.Logger
	stopOnce   sync.Once
	stopCh     chan struct{}
	doneCh     chan struct{}
}

func NewReconciliationWorker(r PendingReconciler, interval time.Duration, batchSize int, log *zap.Logger) *ReconciliationWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReconciliationWorker{
		reconciler: r,
		interval:   interval,
		batchSize:  batchSize,
		log:        logger.OrNop(log),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start はワーカーを開始し、ctx のキャンセルか Stop まで戻らない
func (w *ReconciliationWorker) Start(ctx context.Context) {
	w.log.Info("修復ワーカー開始",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("修復ワーカー停止（コンテキストキャンセル）")
			return
		case <-w.stopCh:
			w.log.Info("修復ワーカー停止（シグナル受信）")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop はワーカーを停止し、実行中の処理の終了を待つ
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	result, err := w.reconciler.ReconcilePending(ctx, w.batchSize)
	if err != nil {
		w.log.Error("不整合の修復に失敗", zap.Error(err))
		return
	}

	if result.Resolved+result.Retried+result.Failed > 0 {
		w.log.Info("不整合の修復を実行",
			zap.Int("resolved", result.Resolved),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
		)
	} else {
		w.log.Debug("修復対象なし")
	}
}
