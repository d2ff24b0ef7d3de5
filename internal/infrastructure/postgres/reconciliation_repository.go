package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-flight-booking/internal/domain/booking"
	"github.com/sanosuguru/go-flight-booking/internal/domain/reconciliation"
	"github.com/sanosuguru/go-flight-booking/internal/domain/transaction"
)

type reconciliationRow struct {
	ID         int64     `db:"id"`
	Operation  string    `db:"operation"`
	Country    string    `db:"country"`
	FlightCode string    `db:"flight_code"`
	BookingID  string    `db:"booking_id"`
	Username   string    `db:"username"`
	SeatDelta  int       `db:"seat_delta"`
	Cause      string    `db:"cause"`
	Attempts   int       `db:"attempts"`
	Status     string    `db:"status"`
	LastError  string    `db:"last_error"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *reconciliationRow) toEntity() *reconciliation.Task {
	return &reconciliation.Task{
		ID: r.ID, Operation: booking.Operation(r.Operation),
		Country: r.Country, FlightCode: r.FlightCode,
		BookingID: r.BookingID, Username: r.Username, SeatDelta: r.SeatDelta,
		Cause: r.Cause, Attempts: r.Attempts, Status: reconciliation.Status(r.Status),
		LastError: r.LastError, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// ReconciliationRepository は修復タスクキューの PostgreSQL 実装
type ReconciliationRepository struct{ db *sqlx.DB }

func NewReconciliationRepository(db *sqlx.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) Enqueue(ctx context.Context, t *reconciliation.Task) error {
	query := `INSERT INTO reconciliation_tasks (operation, country, flight_code, booking_id, username, seat_delta, cause, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		string(t.Operation), t.Country, t.FlightCode, t.BookingID, t.Username,
		t.SeatDelta, t.Cause, string(t.Status), t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID); err != nil {
		return fmt.Errorf("修復タスク登録に失敗: %w", err)
	}
	return nil
}

// ListPending は古い順に pending のタスクを取得する
func (r *ReconciliationRepository) ListPending(ctx context.Context, limit int) ([]*reconciliation.Task, error) {
	query := `SELECT id, operation, country, flight_code, booking_id, username, seat_delta, cause, attempts, status, last_error, created_at, updated_at
		FROM reconciliation_tasks WHERE status = 'pending' ORDER BY created_at, id LIMIT $1`
	var rows []reconciliationRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("修復タスク取得に失敗: %w", err)
	}
	tasks := make([]*reconciliation.Task, len(rows))
	for i := range rows {
		tasks[i] = rows[i].toEntity()
	}
	return tasks, nil
}

func (r *ReconciliationRepository) ResolveTx(ctx context.Context, tx transaction.Tx, id int64) error {
	sqlxTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}
	result, err := sqlxTx.ExecContext(ctx,
		`UPDATE reconciliation_tasks SET status = 'resolved', attempts = attempts + 1, last_error = '', updated_at = NOW() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("修復タスク解決に失敗: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reconciliation.ErrTaskNotFound
	}
	return nil
}

func (r *ReconciliationRepository) RecordAttempt(ctx context.Context, id int64, lastError string) error {
	return r.update(ctx, `UPDATE reconciliation_tasks SET attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE id = $1`, id, lastError)
}

func (r *ReconciliationRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	return r.update(ctx, `UPDATE reconciliation_tasks SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE id = $1`, id, lastError)
}

func (r *ReconciliationRepository) update(ctx context.Context, query string, id int64, lastError string) error {
	result, err := r.db.ExecContext(ctx, query, id, lastError)
	if err != nil {
		return fmt.Errorf("修復タスク更新に失敗: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reconciliation.ErrTaskNotFound
	}
	return nil
}

var _ reconciliation.Repository = (*ReconciliationRepository)(nil)
