// Package recovery restores a consistent store after a crash or an unclean
// shutdown. Run it while no scheduler is active against the store.
package recovery

import (
	"context"
	"fmt"

	"github.com/fentz26/flightops/internal/audit"
	"github.com/fentz26/flightops/internal/store"
	"github.com/sirupsen/logrus"
)

// DefaultMinResultBytes is the size below which a stored result is treated
// as truncated.
const DefaultMinResultBytes = 1024

// Config tunes the reconciliation.
type Config struct {
	// MinResultBytes discards results smaller than this. Zero keeps all results.
	MinResultBytes int
}

// Report summarizes one run.
type Report struct {
	WorkersReleased  int64 `json:"workers_released"`
	PlansRequeued    int64 `json:"plans_requeued"`
	ResultsDiscarded int64 `json:"results_discarded"`
}

// Tool runs the reconciliation.
type Tool struct {
	store    *store.Store
	recorder *audit.Recorder
	config   Config
	log      *logrus.Entry
}

// New creates a recovery tool.
func New(s *store.Store, rec *audit.Recorder, cfg Config, log *logrus.Entry) *Tool {
	return &Tool{store: s, recorder: rec, config: cfg, log: log}
}

// Run makes every worker available and returns every in-progress plan and
// every plan with a short result to the queue, in one transaction.
func (t *Tool) Run(ctx context.Context) (*Report, error) {
	if t.config.MinResultBytes < 0 {
		return nil, fmt.Errorf("min result bytes must not be negative: %d", t.config.MinResultBytes)
	}

	counts, err := t.store.Reconcile(ctx, t.config.MinResultBytes)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	report := &Report{
		WorkersReleased:  counts.WorkersReleased,
		PlansRequeued:    counts.PlansRequeued,
		ResultsDiscarded: counts.ResultsDiscarded,
	}

	if _, err := t.recorder.Record(ctx, audit.Entry{
		Action:  audit.ActionRecover,
		Inputs:  t.config,
		Outcome: audit.OutcomeSuccess,
		Details: fmt.Sprintf("workers=%d plans=%d results=%d",
			report.WorkersReleased, report.PlansRequeued, report.ResultsDiscarded),
	}); err != nil {
		t.log.WithError(err).Warn("audit record failed")
	}

	t.log.WithFields(logrus.Fields{
		"workers_released":  report.WorkersReleased,
		"plans_requeued":    report.PlansRequeued,
		"results_discarded": report.ResultsDiscarded,
		"min_result_bytes":  t.config.MinResultBytes,
	}).Info("recovery complete")

	return report, nil
}
