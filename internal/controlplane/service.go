// Package controlplane provides the HTTP API and service layer for flightops.
package controlplane

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/flightops/internal/audit"
	"github.com/fentz26/flightops/internal/authority"
	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/notify"
	"github.com/fentz26/flightops/internal/store"
	"github.com/fentz26/flightops/internal/trajectory"
	"github.com/sirupsen/logrus"
)

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	recorder  *audit.Recorder
	authority *authority.Service
	notifier  notify.Notifier
	log       *logrus.Entry
}

// NewService creates a new control plane service. A nil notifier disables wake-ups.
func NewService(s *store.Store, rec *audit.Recorder, auth *authority.Service, n notify.Notifier, log *logrus.Entry) *Service {
	if n == nil {
		n = notify.NewLocal()
	}
	return &Service{
		store:     s,
		recorder:  rec,
		authority: auth,
		notifier:  n,
		log:       log,
	}
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if _, err := s.recorder.Record(ctx, e); err != nil {
		s.log.WithError(err).WithField("action", e.Action).Warn("audit record failed")
	}
}

// Health checks the store.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Plan Operations ---

// CreatePlan creates a plan and wakes the scheduler when it is queued.
func (s *Service) CreatePlan(ctx context.Context, np store.NewPlan) (*models.FlightPlan, error) {
	np.Name = strings.TrimSpace(np.Name)
	np.ExternalResponseNumber = strings.TrimSpace(np.ExternalResponseNumber)
	if np.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if np.Payload == "" {
		return nil, fmt.Errorf("%w: payload is required", ErrValidation)
	}

	plan, err := s.store.CreatePlan(ctx, np)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.Entry{
		Action:  audit.ActionCreate,
		PlanID:  plan.ID,
		Inputs:  map[string]any{"name": np.Name, "owner": np.Owner, "folder": np.Folder, "hold": np.Hold},
		Outcome: audit.OutcomeSuccess,
		Details: string(plan.Status),
	})
	if plan.Status == models.PlanStatusQueued {
		s.notifier.Notify(ctx)
	}
	return plan, nil
}

// GetPlan retrieves a plan by id.
func (s *Service) GetPlan(ctx context.Context, id int64) (*models.FlightPlan, error) {
	return s.store.GetPlan(ctx, id)
}

// ListPlans returns plans filtered by status.
func (s *Service) ListPlans(ctx context.Context, status string) ([]models.FlightPlan, error) {
	st := models.PlanStatus(status)
	if st != "" && !st.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.store.ListPlans(ctx, st)
}

// QueuePlan resets a plan to queued, discarding any prior result.
func (s *Service) QueuePlan(ctx context.Context, id int64) (*models.FlightPlan, error) {
	plan, err := s.store.QueuePlan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		Action:  audit.ActionQueue,
		PlanID:  id,
		Inputs:  map[string]any{"plan_id": id},
		Outcome: audit.OutcomeSuccess,
	})
	s.notifier.Notify(ctx)
	return plan, nil
}

// SetReference assigns the external response number of a plan.
func (s *Service) SetReference(ctx context.Context, id int64, ref string) (*models.FlightPlan, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: external_response_number is required", ErrValidation)
	}
	if err := s.store.SetExternalReference(ctx, id, ref); err != nil {
		return nil, err
	}
	return s.store.GetPlan(ctx, id)
}

// --- Result Operations ---

// GetResult returns the result of a plan.
func (s *Service) GetResult(ctx context.Context, planID int64) (*models.Result, error) {
	return s.store.GetResult(ctx, planID)
}

// ResultSummary summarizes the trajectory held in a plan's result.
func (s *Service) ResultSummary(ctx context.Context, planID int64) (*trajectory.Summary, error) {
	res, err := s.store.GetResult(ctx, planID)
	if err != nil {
		return nil, err
	}
	return trajectory.Summarize(res.Payload)
}

// DeleteResult discards a plan's result and requeues the plan.
func (s *Service) DeleteResult(ctx context.Context, planID int64) error {
	if err := s.store.DeleteResult(ctx, planID); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		Action:  audit.ActionDiscard,
		PlanID:  planID,
		Inputs:  map[string]any{"plan_id": planID},
		Outcome: audit.OutcomeSuccess,
	})
	s.notifier.Notify(ctx)
	return nil
}

// FetchResults returns the results of many plans.
func (s *Service) FetchResults(ctx context.Context, ids []int64) ([]models.Result, error) {
	return s.store.GetResults(ctx, ids)
}

// DeleteResults discards the results of many plans and requeues them.
func (s *Service) DeleteResults(ctx context.Context, ids []int64) (int64, error) {
	n, err := s.store.DeleteResults(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.record(ctx, audit.Entry{
			Action:  audit.ActionDiscard,
			Inputs:  ids,
			Outcome: audit.OutcomeSuccess,
			Details: fmt.Sprintf("%d results", n),
		})
		s.notifier.Notify(ctx)
	}
	return n, nil
}

// --- Worker Operations ---

// ListWorkers returns all workers.
func (s *Service) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	return s.store.ListWorkers(ctx)
}

// AddWorker registers a worker or updates its address.
func (s *Service) AddWorker(ctx context.Context, name, address string) (*models.Worker, error) {
	name, address = strings.TrimSpace(name), strings.TrimSpace(address)
	if name == "" || address == "" {
		return nil, fmt.Errorf("%w: name and address are required", ErrValidation)
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	w, err := s.store.RegisterWorker(ctx, name, address)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		Action:   audit.ActionWorker,
		WorkerID: w.ID,
		Inputs:   map[string]any{"name": name, "address": address},
		Outcome:  audit.OutcomeSuccess,
		Details:  "registered",
	})
	s.notifier.Notify(ctx)
	return w, nil
}

// SetWorkerAvailability is the administrative override of a worker's state.
func (s *Service) SetWorkerAvailability(ctx context.Context, id int64, availability string) (*models.Worker, error) {
	a := models.Availability(availability)
	if !a.Valid() {
		return nil, fmt.Errorf("%w: unknown availability %q", ErrValidation, availability)
	}

	w, err := s.store.SetWorkerAvailability(ctx, id, a)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		Action:   audit.ActionWorker,
		WorkerID: id,
		Inputs:   map[string]any{"worker_id": id, "availability": a},
		Outcome:  audit.OutcomeSuccess,
		Details:  string(a),
	})
	if a == models.AvailabilityAvailable {
		s.notifier.Notify(ctx)
	}
	return w, nil
}

// DeleteWorker removes a worker, requeueing any plan it was running.
func (s *Service) DeleteWorker(ctx context.Context, id int64) error {
	if err := s.store.DeleteWorker(ctx, id); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		Action:   audit.ActionWorker,
		WorkerID: id,
		Inputs:   map[string]any{"worker_id": id},
		Outcome:  audit.OutcomeSuccess,
		Details:  "deleted",
	})
	s.notifier.Notify(ctx)
	return nil
}

// --- Authorization ---

// ApplyAuthorization applies an authority callback.
func (s *Service) ApplyAuthorization(ctx context.Context, key string, body []byte) (*models.FlightPlan, error) {
	return s.authority.Apply(ctx, key, body)
}

// --- Audit ---

// ListAudit returns assignment records, newest first.
func (s *Service) ListAudit(ctx context.Context, planID int64, limit int) ([]models.AssignmentRecord, error) {
	return s.store.ListAssignments(ctx, planID, limit)
}
