package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/google/uuid"
)

// WriteAssignment appends an assignment record to the audit log.
func (s *Store) WriteAssignment(ctx context.Context, rec models.AssignmentRecord) (*models.AssignmentRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO assignments (id, action, plan_id, worker_id, inputs_hash, outcome, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Action, rec.PlanID, rec.WorkerID, rec.InputsHash, rec.Outcome, rec.Details, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	return &rec, nil
}

// ListAssignments returns audit records newest first, optionally for one plan.
func (s *Store) ListAssignments(ctx context.Context, planID int64, limit int) ([]models.AssignmentRecord, error) {
	query := `SELECT id, action, plan_id, worker_id, inputs_hash, outcome, COALESCE(details, ''), timestamp FROM assignments`
	var args []any
	if planID > 0 {
		query += ` WHERE plan_id = ?`
		args = append(args, planID)
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var records []models.AssignmentRecord
	for rows.Next() {
		var r models.AssignmentRecord
		if err := rows.Scan(&r.ID, &r.Action, &r.PlanID, &r.WorkerID, &r.InputsHash, &r.Outcome, &r.Details, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
