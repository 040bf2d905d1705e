// Package authority applies asynchronous verdicts from the flight
// authorization service (FAS) to flight plans.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fentz26/flightops/internal/audit"
	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrValidation indicates a malformed callback body.
var ErrValidation = errors.New("invalid authorization callback")

// acceptedToken is the verdict that approves a plan. Matching ignores case.
const acceptedToken = "ACCEPTED"

// Service applies callbacks to the store.
type Service struct {
	store    *store.Store
	recorder *audit.Recorder
	log      *logrus.Entry
}

// NewService creates a callback service.
func NewService(s *store.Store, rec *audit.Recorder, log *logrus.Entry) *Service {
	return &Service{store: s, recorder: rec, log: log}
}

// Verdict is a decoded callback body.
type Verdict struct {
	Status  models.AuthorizationStatus
	State   string
	Message string
}

// Parse decodes a callback body. The "state" field is required; every other
// field is kept, keys sorted and values verbatim, as the message.
func Parse(body []byte) (*Verdict, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", ErrValidation, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrValidation)
	}

	raw, ok := fields["state"]
	if !ok {
		return nil, fmt.Errorf("%w: missing state", ErrValidation)
	}
	var state string
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: state must be a string", ErrValidation)
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, fmt.Errorf("%w: empty state", ErrValidation)
	}
	delete(fields, "state")

	msg, err := encodeSorted(fields)
	if err != nil {
		return nil, err
	}

	v := &Verdict{Status: models.AuthorizationDenied, State: state, Message: msg}
	if strings.EqualFold(state, acceptedToken) {
		v.Status = models.AuthorizationApproved
	}
	return v, nil
}

// encodeSorted writes fields as a compact JSON object with sorted keys.
func encodeSorted(fields map[string]json.RawMessage) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := json.Compact(&buf, fields[k]); err != nil {
			return "", fmt.Errorf("%w: field %s: %v", ErrValidation, k, err)
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// Apply records the verdict for the plan addressed by key. It changes only
// the plan's authorization fields, never its processing status, and applying
// the same body twice leaves the same state.
func (s *Service) Apply(ctx context.Context, key string, body []byte) (*models.FlightPlan, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty response number", ErrValidation)
	}

	v, err := Parse(body)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateAuthorization(ctx, key, v.Status, v.Message); err != nil {
		return nil, err
	}

	plan, err := s.store.GetPlanByReference(ctx, key)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"plan_id": plan.ID, "response_number": key, "verdict": v.Status})
	if _, err := s.recorder.Record(ctx, audit.Entry{
		Action:  audit.ActionAuthorize,
		PlanID:  plan.ID,
		Inputs:  map[string]any{"key": key, "state": v.State, "message": v.Message},
		Outcome: audit.OutcomeSuccess,
		Details: string(v.Status),
	}); err != nil {
		log.WithError(err).Warn("audit record failed")
	}
	log.Info("authorization applied")

	return plan, nil
}
