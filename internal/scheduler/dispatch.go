package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fentz26/flightops/internal/audit"
	"github.com/fentz26/flightops/internal/connectors"
	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// finalizeTimeout bounds the store writes that close out a dispatch.
	finalizeTimeout = 30 * time.Second

	finalizeRetries       = 3
	finalizeRetryInterval = 100 * time.Millisecond
)

// dispatch sends a reserved plan to its worker and records the outcome. The
// worker is released on every path.
func (sch *Scheduler) dispatch(plan *models.FlightPlan, worker *models.Worker, r store.Reservation) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.activeDispatches--
		sch.mu.Unlock()
	}()

	log := sch.log.WithFields(logrus.Fields{"plan_id": plan.ID, "worker_id": worker.ID, "worker": worker.Name, "attempt": r.Attempt})

	ctx, cancel := context.WithTimeout(sch.ctx, sch.config.DispatchTimeout)
	defer cancel()

	start := time.Now()
	result, err := sch.connector.Process(ctx, worker.Address, connectors.Job{
		PlanID:  plan.ID,
		Name:    plan.Name,
		Payload: plan.Payload,
	})
	elapsed := time.Since(start)

	// Finalize even when the scheduler is shutting down.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(sch.ctx), finalizeTimeout)
	defer fcancel()

	var (
		action  string
		outcome = audit.OutcomeSuccess
		details string
		op      func(context.Context) error
	)
	switch {
	case err == nil:
		action = audit.ActionComplete
		details = fmt.Sprintf("%d bytes in %s", len(result), elapsed.Round(time.Millisecond))
		op = func(ctx context.Context) error { return sch.store.CompletePlan(ctx, r, result) }
	case sch.ctx.Err() != nil:
		action = audit.ActionRequeue
		details = "scheduler stopping"
		op = func(ctx context.Context) error { return sch.store.RequeuePlan(ctx, r) }
	default:
		action = audit.ActionFail
		outcome = audit.OutcomeFailure
		details = err.Error()
		op = func(ctx context.Context) error { return sch.store.FailPlan(ctx, r) }
	}
	ferr := sch.finalize(fctx, log, op)

	sch.ins.DispatchDuration.Record(fctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("action", action)))

	switch {
	case ferr == nil:
		sch.count(fctx, action)
	case errors.Is(ferr, store.ErrInvalidTransition):
		// The plan was reset or reserved again while the worker ran. The
		// worker was released unless a newer reservation holds it.
		outcome = audit.OutcomeFailure
		details = "plan moved during dispatch: " + details
		log.WithError(ferr).Warn("dispatch outcome discarded")
	default:
		outcome = audit.OutcomeFailure
		details = "finalize failed: " + ferr.Error()
		log.WithError(ferr).Error("finalize dispatch failed, abandoning reservation")
		if aerr := sch.store.AbandonReservation(fctx, r); aerr != nil {
			log.WithError(aerr).Error("abandon reservation failed")
		} else {
			sch.count(fctx, audit.ActionFail)
		}
	}

	if _, rerr := sch.recorder.Record(fctx, audit.Entry{
		Action:   action,
		PlanID:   plan.ID,
		WorkerID: worker.ID,
		Inputs:   map[string]any{"plan_id": plan.ID, "worker_id": worker.ID, "address": worker.Address},
		Outcome:  outcome,
		Details:  details,
	}); rerr != nil {
		log.WithError(rerr).Warn("audit record failed")
	}

	entry := log.WithFields(logrus.Fields{"action": action, "elapsed": elapsed.Round(time.Millisecond)})
	if err != nil && action == audit.ActionFail {
		entry.WithError(err).Warn("dispatch failed")
	} else {
		entry.Info("dispatch finished")
	}

	// The worker is free again.
	sch.notifier.Notify(fctx)
}

// finalize runs op until it succeeds, the reservation turns out to be stale,
// or the retries run out.
func (sch *Scheduler) finalize(ctx context.Context, log *logrus.Entry, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = finalizeRetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, finalizeRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if errors.Is(err, store.ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		log.WithError(err).WithField("retry_in", next).Warn("finalize dispatch failed, retrying")
	})
}

func (sch *Scheduler) count(ctx context.Context, action string) {
	switch action {
	case audit.ActionComplete:
		sch.completed.Add(1)
		sch.ins.DispatchCompleted.Add(ctx, 1)
	case audit.ActionFail:
		sch.failed.Add(1)
		sch.ins.DispatchFailed.Add(ctx, 1)
	case audit.ActionRequeue:
		sch.requeued.Add(1)
	}
}
