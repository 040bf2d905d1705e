package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("flightops"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, Config{Driver: DriverPostgres, DSN: connStr})
	require.NoError(t, err)
	defer s.Close()

	w, err := s.RegisterWorker(ctx, "machine-1", "http://10.0.0.1:8080")
	require.NoError(t, err)

	t.Run("reserve and complete", func(t *testing.T) {
		p, err := s.CreatePlan(ctx, NewPlan{Name: "p", Payload: "x", ExternalResponseNumber: "PG-1"})
		require.NoError(t, err)

		r, err := s.ReservePlan(ctx, p.ID, w.ID)
		require.NoError(t, err)
		require.NoError(t, s.CompletePlan(ctx, r, []byte("result")))

		res, err := s.GetResult(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("result"), res.Payload)

		got, err := s.GetWorker(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AvailabilityAvailable, got.Availability)
	})

	t.Run("concurrent reservations", func(t *testing.T) {
		var ids []int64
		for i := 0; i < 4; i++ {
			p, err := s.CreatePlan(ctx, NewPlan{Name: "c", Payload: "x"})
			require.NoError(t, err)
			ids = append(ids, p.ID)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
		)
		for _, id := range ids {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				if _, err := s.ReservePlan(ctx, id, w.ID); err == nil {
					mu.Lock()
					success++
					mu.Unlock()
				}
			}(id)
		}
		wg.Wait()
		assert.Equal(t, 1, success)
	})

	t.Run("duplicate reference", func(t *testing.T) {
		_, err := s.CreatePlan(ctx, NewPlan{Name: "dup", Payload: "x", ExternalResponseNumber: "PG-1"})
		assert.ErrorIs(t, err, ErrDuplicateReference)
	})

	t.Run("reconcile", func(t *testing.T) {
		counts, err := s.Reconcile(ctx, 1024)
		require.NoError(t, err)
		assert.EqualValues(t, 1, counts.WorkersReleased)
		assert.EqualValues(t, 2, counts.PlansRequeued)
		assert.EqualValues(t, 1, counts.ResultsDiscarded)
	})

	t.Run("lock", func(t *testing.T) {
		_, err := s.AcquireLock(ctx, "scheduler.tick", "a", time.Minute)
		require.NoError(t, err)
		_, err = s.AcquireLock(ctx, "scheduler.tick", "b", time.Minute)
		assert.ErrorIs(t, err, ErrResourceLocked)
	})

	t.Run("stale completion after re-reservation", func(t *testing.T) {
		w2, err := s.RegisterWorker(ctx, "machine-2", "http://10.0.0.2:8080")
		require.NoError(t, err)
		p, err := s.CreatePlan(ctx, NewPlan{Name: "again", Payload: "x"})
		require.NoError(t, err)

		first, err := s.ReservePlan(ctx, p.ID, w2.ID)
		require.NoError(t, err)
		_, err = s.SetWorkerAvailability(ctx, w2.ID, models.AvailabilityAvailable)
		require.NoError(t, err)
		second, err := s.ReservePlan(ctx, p.ID, w2.ID)
		require.NoError(t, err)

		assert.ErrorIs(t, s.CompletePlan(ctx, first, []byte("stale")), ErrInvalidTransition)
		got, err := s.GetWorker(ctx, w2.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AvailabilityBusy, got.Availability)

		require.NoError(t, s.FailPlan(ctx, second))
		got, err = s.GetWorker(ctx, w2.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AvailabilityAvailable, got.Availability)
	})
}
