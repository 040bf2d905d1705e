package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fentz26/flightops/internal/audit"
	"github.com/fentz26/flightops/internal/connectors"
	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/notify"
	"github.com/fentz26/flightops/internal/store"
	"github.com/fentz26/flightops/internal/telemetry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// tickResource is the store lock that serializes find-and-reserve across processes.
const tickResource = "scheduler.tick"

// Store is the persistence the scheduler works against. *store.Store
// implements it.
type Store interface {
	AcquireLock(ctx context.Context, resourceID, holderID string, ttl time.Duration) (*models.Lock, error)
	ReleaseLock(ctx context.Context, lockID string) error
	FirstAvailableWorker(ctx context.Context) (*models.Worker, error)
	OldestQueuedPlan(ctx context.Context) (*models.FlightPlan, error)
	ReservePlan(ctx context.Context, planID, workerID int64) (store.Reservation, error)
	CompletePlan(ctx context.Context, r store.Reservation, payload []byte) error
	FailPlan(ctx context.Context, r store.Reservation) error
	RequeuePlan(ctx context.Context, r store.Reservation) error
	AbandonReservation(ctx context.Context, r store.Reservation) error
}

// Scheduler reserves one queued plan per tick and dispatches it.
type Scheduler struct {
	store     Store
	recorder  *audit.Recorder
	connector connectors.Connector
	notifier  notify.Notifier
	config    *Config
	log       *logrus.Entry
	ins       *telemetry.Instruments

	ticking atomic.Bool

	mu               sync.Mutex
	activeDispatches int
	interval         time.Duration

	reservations atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	requeued     atomic.Int64
	conflicts    atomic.Int64
	skipped      atomic.Int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates a new scheduler. A nil notifier means polling only.
func New(s Store, rec *audit.Recorder, conn connectors.Connector, n notify.Notifier, cfg *Config, log *logrus.Entry) *Scheduler {
	cfg = cfg.withDefaults()
	if cfg.HolderID == "" {
		cfg.HolderID = uuid.New().String()
	}
	if n == nil {
		n = notify.NewLocal()
	}

	ins, err := telemetry.NewInstruments()
	if err != nil {
		log.WithError(err).Warn("metrics disabled")
		ins = telemetry.Noop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:     s,
		recorder:  rec,
		connector: conn,
		notifier:  n,
		config:    cfg,
		log:       log,
		ins:       ins,
		interval:  cfg.Interval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	if !sch.started.CompareAndSwap(false, true) {
		return
	}
	sch.wg.Add(1)
	go sch.loop()
	sch.log.WithFields(logrus.Fields{
		"holder":       sch.config.HolderID,
		"interval":     sch.config.Interval,
		"max_interval": sch.config.MaxInterval,
	}).Info("scheduler started")
}

// Stop cancels the loop and in-flight dispatches and waits for them. Plans
// whose dispatch was interrupted go back to the queue.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.log.Info("scheduler stopped")
}

func (sch *Scheduler) loop() {
	defer sch.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sch.config.Interval
	b.MaxInterval = sch.config.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(sch.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-sch.notifier.Wake():
		case <-timer.C:
		}

		reserved, err := sch.Tick(sch.ctx)
		if err != nil && sch.ctx.Err() == nil {
			sch.log.WithError(err).Error("scheduler tick failed")
		}

		next := time.Duration(0)
		if reserved {
			// More work may be waiting; go again right away.
			b.Reset()
			next = sch.config.Interval
			if sch.hasBacklog() {
				next = 0
			}
		} else {
			next = b.NextBackOff()
		}
		sch.mu.Lock()
		sch.interval = next
		sch.mu.Unlock()
		timer.Reset(next)
	}
}

// hasBacklog reports whether another reservation is likely to succeed.
func (sch *Scheduler) hasBacklog() bool {
	if _, err := sch.store.FirstAvailableWorker(sch.ctx); err != nil {
		return false
	}
	if _, err := sch.store.OldestQueuedPlan(sch.ctx); err != nil {
		return false
	}
	return true
}

// Tick runs one find-and-reserve pass. It reports whether a plan was reserved.
// Overlapping ticks, in this process or another sharing the store, are skipped.
func (sch *Scheduler) Tick(ctx context.Context) (bool, error) {
	if sch.ctx.Err() != nil {
		return false, nil
	}
	if !sch.ticking.CompareAndSwap(false, true) {
		sch.skipped.Add(1)
		return false, nil
	}
	defer sch.ticking.Store(false)

	lock, err := sch.store.AcquireLock(ctx, tickResource, sch.config.HolderID, sch.config.LockTTL)
	if errors.Is(err, store.ErrResourceLocked) {
		sch.skipped.Add(1)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire tick lock: %w", err)
	}
	defer func() {
		if err := sch.store.ReleaseLock(context.WithoutCancel(ctx), lock.ID); err != nil {
			sch.log.WithError(err).Warn("release tick lock failed")
		}
	}()

	worker, err := sch.store.FirstAvailableWorker(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	plan, err := sch.store.OldestQueuedPlan(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := sch.log.WithFields(logrus.Fields{"plan_id": plan.ID, "worker_id": worker.ID, "worker": worker.Name})

	r, err := sch.store.ReservePlan(ctx, plan.ID, worker.ID)
	if err != nil {
		if errors.Is(err, store.ErrReservationConflict) {
			sch.conflicts.Add(1)
			log.Debug("reservation conflict, retrying next tick")
			return false, nil
		}
		return false, fmt.Errorf("reserve plan %d: %w", plan.ID, err)
	}

	sch.reservations.Add(1)
	sch.ins.Reservations.Add(ctx, 1)
	if _, err := sch.recorder.Record(ctx, audit.Entry{
		Action:   audit.ActionReserve,
		PlanID:   plan.ID,
		WorkerID: worker.ID,
		Inputs:   map[string]any{"plan_id": plan.ID, "worker_id": worker.ID, "attempt": r.Attempt, "holder": sch.config.HolderID},
		Outcome:  audit.OutcomeSuccess,
		Details:  fmt.Sprintf("reserved %s on %s", plan.Name, worker.Name),
	}); err != nil {
		log.WithError(err).Warn("audit record failed")
	}
	log.WithField("attempt", r.Attempt).Info("plan reserved")

	sch.mu.Lock()
	sch.activeDispatches++
	sch.mu.Unlock()

	sch.wg.Add(1)
	go sch.dispatch(plan, worker, r)

	return true, nil
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	return map[string]interface{}{
		"active_dispatches": sch.activeDispatches,
		"reservations":      sch.reservations.Load(),
		"completed":         sch.completed.Load(),
		"failed":            sch.failed.Load(),
		"requeued":          sch.requeued.Load(),
		"conflicts":         sch.conflicts.Load(),
		"skipped_ticks":     sch.skipped.Load(),
		"next_interval":     sch.interval.String(),
		"connector":         sch.connector.Name(),
		"holder":            sch.config.HolderID,
	}
}
