package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	s, err := New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should be created")
	assert.Equal(t, DriverSQLite, s.Driver())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestPlanCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, NewPlan{Name: "survey-1", Payload: "UPLAN", Owner: "ops", Folder: "north"})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, models.PlanStatusQueued, p.Status)
	assert.Equal(t, models.AuthorizationNone, p.AuthorizationStatus)

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "survey-1", got.Name)
	assert.Equal(t, "UPLAN", got.Payload)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.ResultID)

	held, err := s.CreatePlan(ctx, NewPlan{Name: "draft", Payload: "X", Hold: true})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusUnprocessed, held.Status)

	all, err := s.ListPlans(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Empty(t, all[0].Payload, "list omits payloads")

	queued, err := s.ListPlans(ctx, models.PlanStatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, p.ID, queued[0].ID)

	_, err = s.GetPlan(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOldestQueuedPlan_FIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.OldestQueuedPlan(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := mustPlan(t, s, "a")
	mustPlan(t, s, "b")

	got, err := s.OldestQueuedPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestReservePlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")

	r, err := s.ReservePlan(ctx, p.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, Reservation{PlanID: p.ID, WorkerID: w.ID, Attempt: 1}, r)

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusInProgress, got.Status)
	assert.EqualValues(t, 1, got.Attempt)
	require.NotNil(t, got.WorkerID)
	assert.Equal(t, w.ID, *got.WorkerID)

	gw, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityBusy, gw.Availability)

	// Worker busy now.
	p2 := mustPlan(t, s, "p2")
	_, err = s.ReservePlan(ctx, p2.ID, w.ID)
	assert.ErrorIs(t, err, ErrReservationConflict)
}

func TestReservePlan_PlanMovedRollsBackWorker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	_, err := s.CreatePlan(ctx, NewPlan{Name: "held", Payload: "x", Hold: true})
	require.NoError(t, err)
	held, err := s.ListPlans(ctx, models.PlanStatusUnprocessed)
	require.NoError(t, err)
	require.Len(t, held, 1)

	_, err = s.ReservePlan(ctx, held[0].ID, w.ID)
	assert.ErrorIs(t, err, ErrReservationConflict)

	gw, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityAvailable, gw.Availability, "worker write must roll back")

	mustReserve(t, s, p.ID, w.ID)
}

func TestReservePlan_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	plans := make([]*models.FlightPlan, 5)
	for i := range plans {
		plans[i] = mustPlan(t, s, fmt.Sprintf("p%d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for _, p := range plans {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := s.ReservePlan(ctx, id, w.ID); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(p.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, success, "one worker takes exactly one plan")
	inProgress, err := s.ListPlans(ctx, models.PlanStatusInProgress)
	require.NoError(t, err)
	assert.Len(t, inProgress, 1)
}

func TestCompletePlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	r := mustReserve(t, s, p.ID, w.ID)

	require.NoError(t, s.CompletePlan(ctx, r, []byte("RESULT")))

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusDone, got.Status)
	assert.Nil(t, got.WorkerID)
	require.NotNil(t, got.ResultID)
	assert.Equal(t, p.ID, *got.ResultID)

	res, err := s.GetResult(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("RESULT"), res.Payload)
	assert.Equal(t, 6, res.Size)

	gw, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityAvailable, gw.Availability)

	// Second completion is rejected, the worker stays available.
	assert.ErrorIs(t, s.CompletePlan(ctx, r, []byte("again")), ErrInvalidTransition)
}

func TestFailAndRequeuePlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")

	require.NoError(t, s.FailPlan(ctx, mustReserve(t, s, p.ID, w.ID)))
	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusError, got.Status)
	assert.Nil(t, got.WorkerID)

	_, err = s.QueuePlan(ctx, p.ID)
	require.NoError(t, err)
	r := mustReserve(t, s, p.ID, w.ID)
	assert.EqualValues(t, 2, r.Attempt)
	require.NoError(t, s.RequeuePlan(ctx, r))

	got, err = s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusQueued, got.Status)

	gw, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityAvailable, gw.Availability)
}

func TestQueuePlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")

	_, err := s.QueuePlan(ctx, p.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "already queued")

	r := mustReserve(t, s, p.ID, w.ID)
	_, err = s.QueuePlan(ctx, p.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "in progress")

	require.NoError(t, s.CompletePlan(ctx, r, []byte("R")))
	got, err := s.QueuePlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusQueued, got.Status)
	assert.Nil(t, got.ResultID)

	_, err = s.GetResult(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound, "retry discards the prior result")

	_, err = s.QueuePlan(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExternalReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustPlan(t, s, "a")
	b := mustPlan(t, s, "b")

	require.NoError(t, s.SetExternalReference(ctx, a.ID, "X-9"))
	assert.ErrorIs(t, s.SetExternalReference(ctx, b.ID, "X-9"), ErrDuplicateReference)
	assert.ErrorIs(t, s.SetExternalReference(ctx, 777, "X-1"), ErrNotFound)

	got, err := s.GetPlanByReference(ctx, "X-9")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.CreatePlan(ctx, NewPlan{Name: "c", Payload: "x", ExternalResponseNumber: "X-9"})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	// Plans without a reference do not collide with each other.
	mustPlan(t, s, "d")
}

func TestUpdateAuthorization_TouchesOnlyAuthColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, NewPlan{Name: "p", Payload: "x", ExternalResponseNumber: "X-9"})
	require.NoError(t, err)
	before, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, s.UpdateAuthorization(ctx, "X-9", models.AuthorizationApproved, `{"a":1}`))

	after, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuthorizationApproved, after.AuthorizationStatus)
	assert.Equal(t, `{"a":1}`, after.AuthorizationMessage)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	assert.ErrorIs(t, s.UpdateAuthorization(ctx, "nope", models.AuthorizationDenied, ""), ErrNotFound)
}

func TestWorkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FirstAvailableWorker(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	synced, err := s.SyncWorkers(ctx, []models.WorkerSpec{
		{Name: "machine-1", Address: "http://10.0.0.1:8080"},
		{Name: "machine-2", Address: "http://10.0.0.2:8080"},
	})
	require.NoError(t, err)
	require.Len(t, synced, 2)

	// Re-registering keeps the id and updates the address.
	again, err := s.RegisterWorker(ctx, "machine-1", "http://10.0.0.9:8080")
	require.NoError(t, err)
	assert.Equal(t, synced[0].ID, again.ID)
	assert.Equal(t, "http://10.0.0.9:8080", again.Address)

	first, err := s.FirstAvailableWorker(ctx)
	require.NoError(t, err)
	assert.Equal(t, synced[0].ID, first.ID)

	_, err = s.SetWorkerAvailability(ctx, synced[0].ID, models.AvailabilityBusy)
	require.NoError(t, err)
	avail, err := s.ListAvailableWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, synced[1].ID, avail[0].ID)

	_, err = s.SetWorkerAvailability(ctx, synced[0].ID, "sleeping")
	assert.Error(t, err)
	_, err = s.SetWorkerAvailability(ctx, 999, models.AvailabilityBusy)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteWorker(ctx, synced[1].ID))
	assert.ErrorIs(t, s.DeleteWorker(ctx, synced[1].ID), ErrNotFound)

	all, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSetWorkerAvailability_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	first, err := s.SetWorkerAvailability(ctx, w.ID, models.AvailabilityAvailable)
	require.NoError(t, err)
	second, err := s.SetWorkerAvailability(ctx, w.ID, models.AvailabilityAvailable)
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestSetWorkerAvailable_RequeuesAssignedPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	r := mustReserve(t, s, p.ID, w.ID)

	got, err := s.SetWorkerAvailability(ctx, w.ID, models.AvailabilityAvailable)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityAvailable, got.Availability)

	plan, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusQueued, plan.Status)
	assert.Nil(t, plan.WorkerID)

	// The late dispatch outcome is rejected and leaves the worker alone.
	assert.ErrorIs(t, s.CompletePlan(ctx, r, []byte("late")), ErrInvalidTransition)
}

func TestCompletePlan_StaleReservationAfterReReserve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")

	first := mustReserve(t, s, p.ID, w.ID)
	// Operator override while the first dispatch is still out.
	_, err := s.SetWorkerAvailability(ctx, w.ID, models.AvailabilityAvailable)
	require.NoError(t, err)
	second := mustReserve(t, s, p.ID, w.ID)
	require.Equal(t, first.PlanID, second.PlanID)
	require.Greater(t, second.Attempt, first.Attempt)

	assert.ErrorIs(t, s.CompletePlan(ctx, first, []byte("stale")), ErrInvalidTransition)
	assert.ErrorIs(t, s.FailPlan(ctx, first), ErrInvalidTransition)

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusInProgress, got.Status)
	assert.Nil(t, got.ResultID)
	gw, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityBusy, gw.Availability, "worker still runs the second dispatch")

	require.NoError(t, s.CompletePlan(ctx, second, []byte("fresh")))
	res, err := s.GetResult(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), res.Payload)
	gw, err = s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityAvailable, gw.Availability)
}

func TestAbandonReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	r := mustReserve(t, s, p.ID, w.ID)

	// A plain release cannot free a worker whose plan is still in progress.
	require.NoError(t, s.ReleaseWorker(ctx, w.ID))
	gw, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.AvailabilityBusy, gw.Availability)

	require.NoError(t, s.AbandonReservation(ctx, r))

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusError, got.Status)
	assert.Nil(t, got.WorkerID)
	gw, err = s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityAvailable, gw.Availability)
}

func TestAbandonReservation_LeavesNewerReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	first := mustReserve(t, s, p.ID, w.ID)
	_, err := s.SetWorkerAvailability(ctx, w.ID, models.AvailabilityAvailable)
	require.NoError(t, err)
	mustReserve(t, s, p.ID, w.ID)

	require.NoError(t, s.AbandonReservation(ctx, first))

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusInProgress, got.Status)
	gw, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityBusy, gw.Availability)
}

func TestOpen_MigratesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE flight_plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		worker_id INTEGER,
		result_id INTEGER,
		authorization_status TEXT NOT NULL DEFAULT 'none',
		authorization_message TEXT NOT NULL DEFAULT '',
		external_response_number TEXT UNIQUE,
		owner TEXT NOT NULL DEFAULT '',
		folder TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	assert.EqualValues(t, 0, p.Attempt)
	assert.EqualValues(t, 1, mustReserve(t, s, p.ID, w.ID).Attempt)
}

func TestReleaseWorker_KeepsBusyWhileAssigned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	mustReserve(t, s, p.ID, w.ID)

	require.NoError(t, s.ReleaseWorker(ctx, w.ID))
	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityBusy, got.Availability)
}

func TestDeleteWorker_RequeuesAssignedPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	p := mustPlan(t, s, "p")
	mustReserve(t, s, p.ID, w.ID)

	require.NoError(t, s.DeleteWorker(ctx, w.ID))
	plan, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusQueued, plan.Status)
}

func TestResults_Bulk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := mustWorker(t, s, "machine-1")
	var ids []int64
	for i := 0; i < 3; i++ {
		p := mustPlan(t, s, fmt.Sprintf("p%d", i))
		require.NoError(t, s.CompletePlan(ctx, mustReserve(t, s, p.ID, w.ID), []byte(fmt.Sprintf("result-%d", i))))
		ids = append(ids, p.ID)
	}

	results, err := s.GetResults(ctx, append(ids, 9999))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []byte("result-0"), results[0].Payload)

	n, err := s.DeleteResults(ctx, ids[:2])
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	p0, err := s.GetPlan(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusQueued, p0.Status)
	assert.Nil(t, p0.ResultID)

	p2, err := s.GetPlan(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusDone, p2.Status)

	assert.ErrorIs(t, s.DeleteResult(ctx, ids[0]), ErrNotFound)
	require.NoError(t, s.DeleteResult(ctx, ids[2]))

	tooMany := make([]int64, MaxBulkIDs+1)
	_, err = s.GetResults(ctx, tooMany)
	assert.ErrorIs(t, err, ErrTooManyIDs)
	_, err = s.DeleteResults(ctx, tooMany)
	assert.ErrorIs(t, err, ErrTooManyIDs)
}

func TestReconcile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w1 := mustWorker(t, s, "machine-1")
	w2 := mustWorker(t, s, "machine-2")
	w3 := mustWorker(t, s, "machine-3")

	stuck1 := mustPlan(t, s, "stuck-1")
	stuck2 := mustPlan(t, s, "stuck-2")
	short := mustPlan(t, s, "short")
	long := mustPlan(t, s, "long")

	require.NoError(t, s.CompletePlan(ctx, mustReserve(t, s, short.ID, w3.ID), []byte("tiny")))
	require.NoError(t, s.CompletePlan(ctx, mustReserve(t, s, long.ID, w3.ID), make([]byte, 2048)))

	mustReserve(t, s, stuck1.ID, w1.ID)
	mustReserve(t, s, stuck2.ID, w2.ID)
	// Operator drain with nothing assigned.
	_, err := s.SetWorkerAvailability(ctx, w3.ID, models.AvailabilityBusy)
	require.NoError(t, err)

	counts, err := s.Reconcile(ctx, 1024)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts.WorkersReleased)
	assert.EqualValues(t, 3, counts.PlansRequeued)
	assert.EqualValues(t, 1, counts.ResultsDiscarded)

	workers, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	for _, w := range workers {
		assert.Equal(t, models.AvailabilityAvailable, w.Availability)
	}

	for _, id := range []int64{stuck1.ID, stuck2.ID, short.ID} {
		p, err := s.GetPlan(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PlanStatusQueued, p.Status)
		assert.Nil(t, p.WorkerID)
		assert.Nil(t, p.ResultID)
	}

	kept, err := s.GetPlan(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusDone, kept.Status)
	_, err = s.GetResult(ctx, long.ID)
	assert.NoError(t, err)

	// A second run finds nothing to do.
	counts, err = s.Reconcile(ctx, 1024)
	require.NoError(t, err)
	assert.Equal(t, ReconcileCounts{}, counts)
}

func TestAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteAssignment(ctx, models.AssignmentRecord{Action: "reserve", PlanID: 1, WorkerID: 2, InputsHash: "h", Outcome: "success"})
	require.NoError(t, err)
	_, err = s.WriteAssignment(ctx, models.AssignmentRecord{Action: "recover", InputsHash: "h", Outcome: "success", Details: "x"})
	require.NoError(t, err)

	all, err := s.ListAssignments(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	forPlan, err := s.ListAssignments(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, forPlan, 1)
	assert.Equal(t, "reserve", forPlan[0].Action)
	assert.EqualValues(t, 2, forPlan[0].WorkerID)
}

func TestAcquireLock_Race(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	resourceID := "scheduler.tick"

	lock1, err := s.AcquireLock(ctx, resourceID, "holder-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock1)

	_, err = s.AcquireLock(ctx, resourceID, "holder-2", time.Minute)
	assert.ErrorIs(t, err, ErrResourceLocked)

	lock, err := s.GetLock(ctx, resourceID)
	require.NoError(t, err)
	assert.Equal(t, "holder-1", lock.HolderID)
}

func TestAcquireLock_ConcurrentAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AcquireLock(ctx, "contended", fmt.Sprintf("holder-%d", i), time.Minute)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
}

func TestAcquireLock_ExpiredCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AcquireLock(ctx, "r", "holder-1", 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	_, err = s.GetLock(ctx, "r")
	assert.ErrorIs(t, err, ErrNotFound)

	lock2, err := s.AcquireLock(ctx, "r", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "holder-2", lock2.HolderID)
}

func TestAcquireLock_ReleaseLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lock, err := s.AcquireLock(ctx, "r", "holder-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseLock(ctx, lock.ID))

	_, err = s.AcquireLock(ctx, "r", "holder-2", time.Minute)
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, s.Ping(ctx))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustPlan(t *testing.T, s *Store, name string) *models.FlightPlan {
	t.Helper()
	p, err := s.CreatePlan(context.Background(), NewPlan{Name: name, Payload: "payload-" + name})
	require.NoError(t, err)
	return p
}

func mustReserve(t *testing.T, s *Store, planID, workerID int64) Reservation {
	t.Helper()
	r, err := s.ReservePlan(context.Background(), planID, workerID)
	require.NoError(t, err)
	return r
}

func mustWorker(t *testing.T, s *Store, name string) *models.Worker {
	t.Helper()
	w, err := s.RegisterWorker(context.Background(), name, "http://"+name+":8080")
	require.NoError(t, err)
	return w
}
