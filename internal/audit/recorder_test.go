package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fentz26/flightops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Record(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	r := NewRecorder(s)

	inputs := map[string]any{"plan_id": 3, "worker_id": 1}
	rec, err := r.Record(ctx, Entry{Action: ActionReserve, PlanID: 3, WorkerID: 1, Inputs: inputs, Outcome: OutcomeSuccess})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Len(t, rec.InputsHash, 64)

	again, err := r.Record(ctx, Entry{Action: ActionReserve, PlanID: 3, WorkerID: 1, Inputs: inputs, Outcome: OutcomeSuccess})
	require.NoError(t, err)
	assert.Equal(t, rec.InputsHash, again.InputsHash, "same inputs hash the same")

	records, err := s.ListAssignments(ctx, 3, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHashInputs_Unmarshalable(t *testing.T) {
	assert.Equal(t, "hash_error", hashInputs(make(chan int)))
}
