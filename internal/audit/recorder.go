// Package audit writes assignment records for every plan lifecycle action.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/store"
)

// Actions recorded in the assignment log.
const (
	ActionCreate    = "plan.create"
	ActionReserve   = "plan.reserve"
	ActionComplete  = "plan.complete"
	ActionFail      = "plan.fail"
	ActionRequeue   = "plan.requeue"
	ActionQueue     = "plan.queue"
	ActionAuthorize = "plan.authorize"
	ActionDiscard   = "result.discard"
	ActionWorker    = "worker.update"
	ActionRecover   = "recovery.run"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder writes assignment records to the store.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a new recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Entry describes one recorded action.
type Entry struct {
	Action   string
	PlanID   int64
	WorkerID int64
	Inputs   any
	Outcome  string
	Details  string
}

// Record writes an entry. Inputs are hashed rather than stored.
func (r *Recorder) Record(ctx context.Context, e Entry) (*models.AssignmentRecord, error) {
	return r.store.WriteAssignment(ctx, models.AssignmentRecord{
		Action:     e.Action,
		PlanID:     e.PlanID,
		WorkerID:   e.WorkerID,
		InputsHash: hashInputs(e.Inputs),
		Outcome:    e.Outcome,
		Details:    e.Details,
	})
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
