package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/flightops/internal/models"
)

// ReconcileCounts reports what Reconcile changed.
type ReconcileCounts struct {
	WorkersReleased  int64 `json:"workers_released"`
	PlansRequeued    int64 `json:"plans_requeued"`
	ResultsDiscarded int64 `json:"results_discarded"`
}

// Reconcile restores a consistent state after a crash, in one transaction:
// every worker becomes available, every in-progress plan goes back to the
// queue, and results smaller than minResultBytes are discarded with their
// plans requeued. It assumes no scheduler is running against the store.
func (s *Store) Reconcile(ctx context.Context, minResultBytes int) (ReconcileCounts, error) {
	var counts ReconcileCounts

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE workers SET availability = ?, updated_at = ? WHERE availability <> ?`),
		models.AvailabilityAvailable, now, models.AvailabilityAvailable,
	)
	if err != nil {
		return counts, fmt.Errorf("release workers: %w", err)
	}
	if counts.WorkersReleased, err = affected(res); err != nil {
		return counts, err
	}

	// Partial results of interrupted plans.
	res, err = tx.ExecContext(ctx, s.rebind(
		`DELETE FROM results WHERE plan_id IN (SELECT id FROM flight_plans WHERE status = ?)`),
		models.PlanStatusInProgress,
	)
	if err != nil {
		return counts, fmt.Errorf("discard partial results: %w", err)
	}
	partial, err := affected(res)
	if err != nil {
		return counts, err
	}

	res, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE flight_plans SET status = ?, worker_id = NULL, result_id = NULL, updated_at = ? WHERE status = ?`),
		models.PlanStatusQueued, now, models.PlanStatusInProgress,
	)
	if err != nil {
		return counts, fmt.Errorf("requeue in-progress plans: %w", err)
	}
	if counts.PlansRequeued, err = affected(res); err != nil {
		return counts, err
	}

	if minResultBytes > 0 {
		res, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE flight_plans SET status = ?, worker_id = NULL, result_id = NULL, updated_at = ?
			 WHERE id IN (SELECT plan_id FROM results WHERE size < ?)`),
			models.PlanStatusQueued, now, minResultBytes,
		)
		if err != nil {
			return counts, fmt.Errorf("requeue plans with short results: %w", err)
		}
		short, err := affected(res)
		if err != nil {
			return counts, err
		}
		counts.PlansRequeued += short

		res, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM results WHERE size < ?`), minResultBytes)
		if err != nil {
			return counts, fmt.Errorf("discard short results: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return counts, err
		}
		partial += n
	}
	counts.ResultsDiscarded = partial

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("commit transaction: %w", err)
	}
	return counts, nil
}
