package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/flightops/internal/models"
)

func (s *Store) putResult(ctx context.Context, tx *sql.Tx, planID int64, payload []byte, now time.Time) error {
	_, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO results (plan_id, payload, size, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (plan_id) DO UPDATE SET payload = excluded.payload, size = excluded.size, created_at = excluded.created_at`),
		planID, payload, len(payload), now,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult retrieves the result of a plan.
func (s *Store) GetResult(ctx context.Context, planID int64) (*models.Result, error) {
	var r models.Result
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT plan_id, payload, size, created_at FROM results WHERE plan_id = ?`), planID,
	).Scan(&r.PlanID, &r.Payload, &r.Size, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}
	return &r, nil
}

// GetResults fetches the results of up to MaxBulkIDs plans. Plans without a
// result are absent from the returned slice.
func (s *Store) GetResults(ctx context.Context, planIDs []int64) ([]models.Result, error) {
	if len(planIDs) > MaxBulkIDs {
		return nil, ErrTooManyIDs
	}
	if len(planIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT plan_id, payload, size, created_at FROM results WHERE plan_id IN (`+placeholders(len(planIDs))+`) ORDER BY plan_id`),
		idArgs(planIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var r models.Result
		if err := rows.Scan(&r.PlanID, &r.Payload, &r.Size, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteResult discards a plan's result; the plan is treated as never
// processed and goes back to the queue.
func (s *Store) DeleteResult(ctx context.Context, planID int64) error {
	n, err := s.DeleteResults(ctx, []int64{planID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteResults discards the results of up to MaxBulkIDs plans and requeues
// those plans. It returns the number of results removed.
func (s *Store) DeleteResults(ctx context.Context, planIDs []int64) (int64, error) {
	if len(planIDs) > MaxBulkIDs {
		return 0, ErrTooManyIDs
	}
	if len(planIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	in := placeholders(len(planIDs))
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM results WHERE plan_id IN (`+in+`)`), idArgs(planIDs)...)
	if err != nil {
		return 0, fmt.Errorf("delete results: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return 0, err
	}

	args := append([]any{models.PlanStatusQueued, time.Now().UTC()}, idArgs(planIDs)...)
	args = append(args, models.PlanStatusInProgress)
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE flight_plans SET status = ?, result_id = NULL, updated_at = ?
		 WHERE id IN (`+in+`) AND result_id IS NOT NULL AND status <> ?`),
		args...,
	); err != nil {
		return 0, fmt.Errorf("requeue plans: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return n, nil
}
