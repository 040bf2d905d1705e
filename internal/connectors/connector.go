// Package connectors defines how a reserved plan is handed to a worker.
package connectors

import (
	"context"
	"errors"
)

var (
	// ErrWorkerStatus indicates the worker answered with a non-2xx status.
	ErrWorkerStatus = errors.New("worker returned error status")

	// ErrEmptyResult indicates the worker answered 2xx without a body.
	ErrEmptyResult = errors.New("worker returned empty result")
)

// Job is the unit sent to a worker.
type Job struct {
	PlanID  int64
	Name    string
	Payload string
}

// Connector defines the interface for processing a plan on a worker.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Process sends job to the worker at address and returns the result
	// payload. It must honor ctx cancellation.
	Process(ctx context.Context, address string, job Job) ([]byte, error)
}
