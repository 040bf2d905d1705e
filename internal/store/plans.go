package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/flightops/internal/models"
)

const planColumns = `id, name, payload, status, worker_id, result_id, authorization_status,
	authorization_message, external_response_number, owner, folder, attempt, created_at, updated_at`

// NewPlan holds the caller-supplied fields of a plan being created.
type NewPlan struct {
	Name                   string
	Payload                string
	Owner                  string
	Folder                 string
	ExternalResponseNumber string
	// Hold creates the plan unprocessed instead of queued.
	Hold bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*models.FlightPlan, error) {
	var (
		p        models.FlightPlan
		workerID sql.NullInt64
		resultID sql.NullInt64
		extRef   sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.Payload, &p.Status, &workerID, &resultID, &p.AuthorizationStatus,
		&p.AuthorizationMessage, &extRef, &p.Owner, &p.Folder, &p.Attempt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if workerID.Valid {
		p.WorkerID = &workerID.Int64
	}
	if resultID.Valid {
		p.ResultID = &resultID.Int64
	}
	if extRef.Valid {
		p.ExternalResponseNumber = extRef.String
	}
	return &p, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// CreatePlan inserts a new plan, queued unless np.Hold is set.
func (s *Store) CreatePlan(ctx context.Context, np NewPlan) (*models.FlightPlan, error) {
	now := time.Now().UTC()
	status := models.PlanStatusQueued
	if np.Hold {
		status = models.PlanStatusUnprocessed
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO flight_plans (name, payload, status, authorization_status, authorization_message,
			external_response_number, owner, folder, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', ?, ?, ?, ?, ?) RETURNING id`),
		np.Name, np.Payload, status, models.AuthorizationNone, nullString(np.ExternalResponseNumber),
		np.Owner, np.Folder, now, now,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("insert plan: %w", err)
	}

	return &models.FlightPlan{
		ID:                     id,
		Name:                   np.Name,
		Payload:                np.Payload,
		Status:                 status,
		AuthorizationStatus:    models.AuthorizationNone,
		ExternalResponseNumber: np.ExternalResponseNumber,
		Owner:                  np.Owner,
		Folder:                 np.Folder,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

// GetPlan retrieves a plan by id.
func (s *Store) GetPlan(ctx context.Context, id int64) (*models.FlightPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+planColumns+` FROM flight_plans WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	return p, nil
}

// GetPlanByReference retrieves the plan addressed by an external response number.
func (s *Store) GetPlanByReference(ctx context.Context, ref string) (*models.FlightPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+planColumns+` FROM flight_plans WHERE external_response_number = ?`), ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query plan by reference: %w", err)
	}
	return p, nil
}

// ListPlans returns plans, optionally filtered by status, oldest first.
// Payloads are omitted.
func (s *Store) ListPlans(ctx context.Context, status models.PlanStatus) ([]models.FlightPlan, error) {
	query := `SELECT ` + planColumns + ` FROM flight_plans`
	var args []any

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []models.FlightPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		p.Payload = ""
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// OldestQueuedPlan returns the first plan in FIFO order (created_at, then id),
// or ErrNotFound when the queue is empty.
func (s *Store) OldestQueuedPlan(ctx context.Context) (*models.FlightPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+planColumns+` FROM flight_plans WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`),
		models.PlanStatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query queued plan: %w", err)
	}
	return p, nil
}

// Reservation identifies one binding of a plan to a worker. Attempt is
// bumped on every reservation of the plan, so the outcome of an abandoned
// dispatch can never be applied to a later one.
type Reservation struct {
	PlanID   int64
	WorkerID int64
	Attempt  int64
}

// ReservePlan atomically binds a queued plan to an available worker.
// Both writes are conditional on the prior state; if either row moved,
// nothing is committed and ErrReservationConflict is returned.
func (s *Store) ReservePlan(ctx context.Context, planID, workerID int64) (Reservation, error) {
	r := Reservation{PlanID: planID, WorkerID: workerID}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return r, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE workers SET availability = ?, updated_at = ? WHERE id = ? AND availability = ?`),
		models.AvailabilityBusy, now, workerID, models.AvailabilityAvailable,
	)
	if err != nil {
		return r, fmt.Errorf("reserve worker: %w", err)
	}
	if n, err := affected(res); err != nil {
		return r, err
	} else if n == 0 {
		return r, ErrReservationConflict
	}

	err = tx.QueryRowContext(ctx, s.rebind(
		`UPDATE flight_plans SET status = ?, worker_id = ?, attempt = attempt + 1, updated_at = ?
		 WHERE id = ? AND status = ? RETURNING attempt`),
		models.PlanStatusInProgress, workerID, now, planID, models.PlanStatusQueued,
	).Scan(&r.Attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrReservationConflict
	}
	if err != nil {
		return r, fmt.Errorf("reserve plan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return r, fmt.Errorf("commit transaction: %w", err)
	}
	return r, nil
}

// CompletePlan persists the result of a reserved plan, marks it done and
// releases its worker in one transaction. It returns ErrInvalidTransition when
// the reservation is no longer current; the worker is still released unless
// another plan is in progress on it.
func (s *Store) CompletePlan(ctx context.Context, r Reservation, payload []byte) error {
	return s.finish(ctx, r, func(tx *sql.Tx, now time.Time) (int64, error) {
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE flight_plans SET status = ?, worker_id = NULL, result_id = id, updated_at = ?
			 WHERE id = ? AND status = ? AND worker_id = ? AND attempt = ?`),
			models.PlanStatusDone, now, r.PlanID, models.PlanStatusInProgress, r.WorkerID, r.Attempt,
		)
		if err != nil {
			return 0, fmt.Errorf("complete plan: %w", err)
		}
		n, err := affected(res)
		if err != nil || n == 0 {
			return n, err
		}
		if err := s.putResult(ctx, tx, r.PlanID, payload, now); err != nil {
			return 0, err
		}
		return n, nil
	})
}

// FailPlan marks a reserved plan as error and releases its worker.
func (s *Store) FailPlan(ctx context.Context, r Reservation) error {
	return s.finish(ctx, r, func(tx *sql.Tx, now time.Time) (int64, error) {
		return s.endReservation(ctx, tx, r, models.PlanStatusError, now)
	})
}

// RequeuePlan returns a reserved plan to the queue and releases its worker.
// Used when a dispatch is abandoned by a shutting-down scheduler.
func (s *Store) RequeuePlan(ctx context.Context, r Reservation) error {
	return s.finish(ctx, r, func(tx *sql.Tx, now time.Time) (int64, error) {
		return s.endReservation(ctx, tx, r, models.PlanStatusQueued, now)
	})
}

// AbandonReservation is the last resort when a dispatch cannot be finalized.
// It runs outside a transaction: the plan goes to error if the reservation is
// still current, then the worker is released if nothing else holds it.
func (s *Store) AbandonReservation(ctx context.Context, r Reservation) error {
	now := time.Now().UTC()
	if _, err := s.endReservation(ctx, s.db, r, models.PlanStatusError, now); err != nil {
		return err
	}
	return s.ReleaseWorker(ctx, r.WorkerID)
}

func (s *Store) endReservation(ctx context.Context, ex execer, r Reservation, status models.PlanStatus, now time.Time) (int64, error) {
	res, err := ex.ExecContext(ctx, s.rebind(
		`UPDATE flight_plans SET status = ?, worker_id = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND worker_id = ? AND attempt = ?`),
		status, now, r.PlanID, models.PlanStatusInProgress, r.WorkerID, r.Attempt,
	)
	if err != nil {
		return 0, fmt.Errorf("move plan to %s: %w", status, err)
	}
	return affected(res)
}

// finish runs a plan transition and the conditional worker release in one
// transaction. The release is committed even if the plan row had moved on.
func (s *Store) finish(ctx context.Context, r Reservation, transition func(*sql.Tx, time.Time) (int64, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Worker row first, in the same order as ReservePlan.
	if err := s.lockWorker(ctx, tx, r.WorkerID); err != nil {
		return err
	}

	now := time.Now().UTC()
	n, err := transition(tx, now)
	if err != nil {
		return err
	}
	if err := s.releaseWorker(ctx, tx, r.WorkerID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("plan %d attempt %d on worker %d: %w", r.PlanID, r.Attempt, r.WorkerID, ErrInvalidTransition)
	}
	return nil
}

// QueuePlan is the explicit reset action: it moves an unprocessed, errored or
// done plan back to queued and discards any prior result.
func (s *Store) QueuePlan(ctx context.Context, planID int64) (*models.FlightPlan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE flight_plans SET status = ?, result_id = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`),
		models.PlanStatusQueued, now, planID,
		models.PlanStatusUnprocessed, models.PlanStatusError, models.PlanStatusDone,
	)
	if err != nil {
		return nil, fmt.Errorf("queue plan: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var status models.PlanStatus
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM flight_plans WHERE id = ?`), planID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query plan: %w", err)
		}
		return nil, fmt.Errorf("plan %d is %s: %w", planID, status, ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM results WHERE plan_id = ?`), planID); err != nil {
		return nil, fmt.Errorf("delete result: %w", err)
	}

	p, err := scanPlan(tx.QueryRowContext(ctx, s.rebind(`SELECT `+planColumns+` FROM flight_plans WHERE id = ?`), planID))
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return p, nil
}

// SetExternalReference assigns the authority correlation key of a plan.
func (s *Store) SetExternalReference(ctx context.Context, planID int64, ref string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE flight_plans SET external_response_number = ? WHERE id = ?`),
		nullString(ref), planID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("set external reference: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAuthorization writes the authorization fields of the plan addressed
// by ref. It touches no other column.
func (s *Store) UpdateAuthorization(ctx context.Context, ref string, status models.AuthorizationStatus, message string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE flight_plans SET authorization_status = ?, authorization_message = ?
		 WHERE external_response_number = ?`),
		status, message, ref,
	)
	if err != nil {
		return fmt.Errorf("update authorization: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
