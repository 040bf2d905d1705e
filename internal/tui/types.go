package tui

import "time"

// PlanItem is a summary of a plan for the list view
type PlanItem struct {
	ID            int64
	Name          string
	Status        string
	WorkerID      int64
	Authorization string
	UpdatedAt     time.Time
}

// PlanDetail is the full plan information
type PlanDetail struct {
	PlanItem
	Owner                  string
	Folder                 string
	ExternalResponseNumber string
	AuthorizationMessage   string
	HasResult              bool
	CreatedAt              time.Time
}

// WorkerItem is a worker row in the pool view
type WorkerItem struct {
	ID           int64
	Name         string
	Address      string
	Availability string
	UpdatedAt    time.Time
}

// AuditItem is one assignment record
type AuditItem struct {
	Action    string
	WorkerID  int64
	Outcome   string
	Details   string
	Timestamp time.Time
}

// SchedulerStats is the subset of /scheduler/stats the console shows
type SchedulerStats struct {
	Running          bool    `json:"running"`
	ActiveDispatches int     `json:"active_dispatches"`
	Reservations     int64   `json:"reservations"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Requeued         int64   `json:"requeued"`
	Conflicts        int64   `json:"conflicts"`
	NextInterval     string  `json:"next_interval"`
	Connector        string  `json:"connector"`
}
