// Package models defines the core domain types for flightops.
package models

import "time"

// PlanStatus governs scheduler visibility of a flight plan.
type PlanStatus string

const (
	PlanStatusUnprocessed PlanStatus = "unprocessed"
	PlanStatusQueued      PlanStatus = "queued"
	PlanStatusInProgress  PlanStatus = "in-progress"
	PlanStatusDone        PlanStatus = "done"
	PlanStatusError       PlanStatus = "error"
)

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusUnprocessed, PlanStatusQueued, PlanStatusInProgress, PlanStatusDone, PlanStatusError:
		return true
	}
	return false
}

// AuthorizationStatus is the authority service's verdict on a plan.
type AuthorizationStatus string

const (
	AuthorizationNone     AuthorizationStatus = "none"
	AuthorizationApproved AuthorizationStatus = "approved"
	AuthorizationDenied   AuthorizationStatus = "denied"
)

// Availability is the two-state machine of a worker.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
)

// Valid reports whether a is a known availability.
func (a Availability) Valid() bool {
	return a == AvailabilityAvailable || a == AvailabilityBusy
}

// FlightPlan is the unit of work scheduled onto workers.
type FlightPlan struct {
	ID                     int64               `json:"id"`
	Name                   string              `json:"name"`
	Payload                string              `json:"payload,omitempty"`
	Status                 PlanStatus          `json:"status"`
	WorkerID               *int64              `json:"worker_id,omitempty"`
	ResultID               *int64              `json:"result_id,omitempty"`
	AuthorizationStatus    AuthorizationStatus `json:"authorization_status"`
	AuthorizationMessage   string              `json:"authorization_message,omitempty"`
	ExternalResponseNumber string              `json:"external_response_number,omitempty"`
	Owner                  string              `json:"owner,omitempty"`
	Folder                 string              `json:"folder,omitempty"`
	Attempt                int64               `json:"attempt"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// Worker is an external compute unit that turns a plan into a result.
type Worker struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Address      string       `json:"address"`
	Availability Availability `json:"availability"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// WorkerSpec is a configured worker entry (name and base address).
type WorkerSpec struct {
	Name    string `json:"name" mapstructure:"name"`
	Address string `json:"address" mapstructure:"address"`
}

// Result is the output payload of a successfully processed plan.
// Its identity is the owning plan's id.
type Result struct {
	PlanID    int64     `json:"plan_id"`
	Payload   []byte    `json:"-"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Lock is a durable, expiring claim on a named resource.
type Lock struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AssignmentRecord is an append-only audit entry for plan lifecycle actions.
type AssignmentRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	PlanID     int64     `json:"plan_id,omitempty"`
	WorkerID   int64     `json:"worker_id,omitempty"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
