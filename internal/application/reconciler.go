package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/domain/flight"
	"github.com/sanosuguru/go-flight-booking/internal/domain/reconciliation"
	"github.com/sanosuguru/go-flight-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/metrics"
)

// ReconcileResult は1回の修復処理の集計
type ReconcileResult struct {
	Resolved int
	Retried  int
	Failed   int
}

// Reconciler は修復キューの pending タスクについて、不足している座席の戻しを再適用する。
// 座席の更新とタスクの解決は同じトランザクションで行う
type Reconciler struct {
	tasks       reconciliation.Repository
	inventory   flight.Inventory
	txManager   transaction.Manager
	cache       AvailabilityCache
	log         *zap.Logger
	metrics     *metrics.Metrics
	retry       RetryPolicy
	maxAttempts int
}

func NewReconciler(tasks reconciliation.Repository, inv flight.Inventory, txm transaction.Manager, cache AvailabilityCache, log *zap.Logger, m *metrics.Metrics, maxAttempts int) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Reconciler{
		tasks: tasks, inventory: inv, txManager: txm, cache: cache,
		log: logger.OrNop(log), metrics: m, retry: DefaultRetryPolicy(), maxAttempts: maxAttempts,
	}
}

// ReconcilePending は古い順に最大 limit 件のタスクを処理する
func (r *Reconciler) ReconcilePending(ctx context.Context, limit int) (ReconcileResult, error) {
	var result ReconcileResult
	tasks, err := r.tasks.ListPending(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("修復タスク取得に失敗: %w", err)
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch r.reconcile(ctx, t) {
		case reconciliation.StatusResolved:
			result.Resolved++
			r.metrics.ObserveReconciliation("resolved")
		case reconciliation.StatusFailed:
			result.Failed++
			r.metrics.ObserveReconciliation("failed")
		default:
			result.Retried++
			r.metrics.ObserveReconciliation("retry")
		}
	}
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context, t *reconciliation.Task) reconciliation.Status {
	log := r.log.With(zap.Int64("task_id", t.ID), zap.Stringer("flight", t.FlightKey()), zap.String("booking_id", t.BookingID))

	if t.SeatDelta <= 0 {
		return r.fail(ctx, log, t, "戻すべき座席数がありません")
	}

	err := r.apply(ctx, t)
	switch {
	case err == nil:
		log.Info("不整合を修復しました", zap.Int("seat_delta", t.SeatDelta))
		if r.cache != nil {
			if cerr := r.cache.Invalidate(ctx, t.FlightKey()); cerr != nil {
				log.Warn("空席キャッシュの無効化に失敗", zap.Error(cerr))
			}
		}
		return reconciliation.StatusResolved
	case errors.Is(err, reconciliation.ErrTaskNotFound):
		// 他のワーカーが先に処理した。ロールバック済みなので座席は変更していない
		log.Info("修復タスクは既に処理済みです")
		return reconciliation.StatusResolved
	case errors.Is(err, flight.ErrFlightNotFound), errors.Is(err, flight.ErrAtMaxCapacity):
		return r.fail(ctx, log, t, err.Error())
	}

	if t.Attempts+1 >= r.maxAttempts {
		return r.fail(ctx, log, t, err.Error())
	}
	if rerr := r.tasks.RecordAttempt(ctx, t.ID, err.Error()); rerr != nil {
		log.Error("修復タスクの更新に失敗", zap.Error(rerr))
	}
	log.Warn("修復に失敗したため次回再試行します", zap.Int("attempts", t.Attempts+1), zap.Error(err))
	return reconciliation.StatusPending
}

// apply は座席を SeatDelta だけ戻す。最大座席数を超える場合は書き込まない
func (r *Reconciler) apply(ctx context.Context, t *reconciliation.Task) error {
	key := t.FlightKey()
	var lastErr error
	for attempt := 0; attempt < r.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.retry.Backoff(attempt-1)); err != nil {
				return err
			}
		}
		f, err := r.inventory.Get(ctx, key)
		if err != nil {
			return err
		}
		newSeats := f.SeatsAvailable + t.SeatDelta
		if newSeats > f.MaxCapacity {
			return fmt.Errorf("%w: 残席数 %d + %d が最大座席数 %d を超えます",
				flight.ErrAtMaxCapacity, f.SeatsAvailable, t.SeatDelta, f.MaxCapacity)
		}

		err = transaction.Run(ctx, r.txManager, func(tx transaction.Tx) error {
			if _, err := r.inventory.ConditionalUpdateTx(ctx, tx, key, newSeats, f.Version); err != nil {
				return err
			}
			return r.tasks.ResolveTx(ctx, tx, t.ID)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, flight.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (r *Reconciler) fail(ctx context.Context, log *zap.Logger, t *reconciliation.Task, reason string) reconciliation.Status {
	if err := r.tasks.MarkFailed(ctx, t.ID, reason); err != nil {
		log.Error("修復タスクの更新に失敗", zap.Error(err))
	}
	log.Error("自動修復できません。手動確認が必要です", zap.String("reason", reason))
	return reconciliation.StatusFailed
}
