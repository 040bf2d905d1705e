package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/flightops/internal/models"
)

const workerColumns = `id, name, address, availability, updated_at`

func scanWorker(row rowScanner) (*models.Worker, error) {
	var w models.Worker
	if err := row.Scan(&w.ID, &w.Name, &w.Address, &w.Availability, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// RegisterWorker inserts a worker, or updates the address of an existing
// worker with the same name. Availability of an existing worker is untouched.
func (s *Store) RegisterWorker(ctx context.Context, name, address string) (*models.Worker, error) {
	now := time.Now().UTC()
	w, err := scanWorker(s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO workers (name, address, availability, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET address = excluded.address
		 RETURNING `+workerColumns),
		name, address, models.AvailabilityAvailable, now,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert worker: %w", err)
	}
	return w, nil
}

// SyncWorkers registers every configured worker. Workers absent from specs
// are left alone; removing a worker is an explicit operator action.
func (s *Store) SyncWorkers(ctx context.Context, specs []models.WorkerSpec) ([]models.Worker, error) {
	workers := make([]models.Worker, 0, len(specs))
	for _, spec := range specs {
		w, err := s.RegisterWorker(ctx, spec.Name, spec.Address)
		if err != nil {
			return nil, fmt.Errorf("sync worker %s: %w", spec.Name, err)
		}
		workers = append(workers, *w)
	}
	return workers, nil
}

// GetWorker retrieves a worker by id.
func (s *Store) GetWorker(ctx context.Context, id int64) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+workerColumns+` FROM workers WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns all workers ordered by id.
func (s *Store) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	return s.listWorkers(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY id ASC`)
}

// ListAvailableWorkers returns the workers that can take a plan.
func (s *Store) ListAvailableWorkers(ctx context.Context) ([]models.Worker, error) {
	return s.listWorkers(ctx, `SELECT `+workerColumns+` FROM workers WHERE availability = ? ORDER BY id ASC`,
		models.AvailabilityAvailable)
}

func (s *Store) listWorkers(ctx context.Context, query string, args ...any) ([]models.Worker, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	var workers []models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

// FirstAvailableWorker returns the available worker with the lowest id,
// or ErrNotFound when the pool is exhausted.
func (s *Store) FirstAvailableWorker(ctx context.Context) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+workerColumns+` FROM workers WHERE availability = ? ORDER BY id ASC LIMIT 1`),
		models.AvailabilityAvailable))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query available worker: %w", err)
	}
	return w, nil
}

// SetWorkerAvailability is the administrative override. Setting a worker
// available returns any plan still in progress on it to the queue so the
// busy-iff-assigned invariant holds. Repeating the same value is a no-op.
func (s *Store) SetWorkerAvailability(ctx context.Context, id int64, availability models.Availability) (*models.Worker, error) {
	if !availability.Valid() {
		return nil, fmt.Errorf("availability %q: %w", availability, ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.lockWorker(ctx, tx, id); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if availability == models.AvailabilityAvailable {
		if err := s.requeueWorkerPlans(ctx, tx, id, now); err != nil {
			return nil, err
		}
	}

	// Conditional on the current value so repeats do not bump updated_at.
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE workers SET availability = ?, updated_at = ? WHERE id = ? AND availability <> ?`),
		availability, now, id, availability,
	); err != nil {
		return nil, fmt.Errorf("update worker availability: %w", err)
	}

	w, err := scanWorker(tx.QueryRowContext(ctx, s.rebind(`SELECT `+workerColumns+` FROM workers WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return w, nil
}

// ReleaseWorker marks a worker available unless a plan is still in progress on it.
func (s *Store) ReleaseWorker(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.lockWorker(ctx, tx, id); err != nil {
		return err
	}
	if err := s.releaseWorker(ctx, tx, id, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// lockWorker takes the worker's row lock on PostgreSQL so that the
// in-progress check of a following release sees every committed
// reservation of that worker. SQLite serializes writers already.
func (s *Store) lockWorker(ctx context.Context, tx *sql.Tx, id int64) error {
	if s.driver != DriverPostgres {
		return nil
	}
	var locked int64
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM workers WHERE id = ? FOR UPDATE`), id).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock worker: %w", err)
	}
	return nil
}

func (s *Store) releaseWorker(ctx context.Context, ex execer, id int64, now time.Time) error {
	_, err := ex.ExecContext(ctx, s.rebind(
		`UPDATE workers SET availability = ?, updated_at = ?
		 WHERE id = ? AND availability = ?
		   AND NOT EXISTS (SELECT 1 FROM flight_plans WHERE worker_id = ? AND status = ?)`),
		models.AvailabilityAvailable, now, id, models.AvailabilityBusy, id, models.PlanStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("release worker: %w", err)
	}
	return nil
}

// DeleteWorker removes a worker after returning any plan in progress on it to the queue.
func (s *Store) DeleteWorker(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.lockWorker(ctx, tx, id); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.requeueWorkerPlans(ctx, tx, id, now); err != nil {
		return err
	}
	// Finished plans keep no worker pointer, but clear any stragglers so the
	// foreign key does not block the delete.
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE flight_plans SET worker_id = NULL WHERE worker_id = ?`), id); err != nil {
		return fmt.Errorf("clear worker references: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM workers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) requeueWorkerPlans(ctx context.Context, tx *sql.Tx, workerID int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM results WHERE plan_id IN (SELECT id FROM flight_plans WHERE worker_id = ? AND status = ?)`),
		workerID, models.PlanStatusInProgress,
	); err != nil {
		return fmt.Errorf("discard results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE flight_plans SET status = ?, worker_id = NULL, result_id = NULL, updated_at = ?
		 WHERE worker_id = ? AND status = ?`),
		models.PlanStatusQueued, now, workerID, models.PlanStatusInProgress,
	); err != nil {
		return fmt.Errorf("requeue worker plans: %w", err)
	}
	return nil
}
