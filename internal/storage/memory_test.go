package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/summarizer/internal/types"
)

func record(runID string, epoch int) types.EpochRecord {
	return types.EpochRecord{
		RunID:        runID,
		Epoch:        epoch,
		MaxEpoch:     10,
		MeanReward:   0.4,
		Baseline:     0.04,
		LearningRate: 0.01,
		BestReward:   0.5,
		BestPicks:    []int{1, 3},
		RecordedAt:   time.Now().UTC(),
	}
}

func TestMemoryStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.AppendEpoch(ctx, record("run", 3)))
	require.NoError(t, store.AppendEpoch(ctx, record("run", 1)))
	require.NoError(t, store.AppendEpoch(ctx, record("run", 2)))
	require.NoError(t, store.AppendEpoch(ctx, record("other", 1)))

	got, err := store.ListEpochs(ctx, "run")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, i+1, r.Epoch)
	}
}

func TestMemoryStore_Conflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.AppendEpoch(ctx, record("run", 1)))
	assert.ErrorIs(t, store.AppendEpoch(ctx, record("run", 1)), ErrConflict)
}

func TestMemoryStore_NotFound(t *testing.T) {
	_, err := NewMemoryStore().ListEpochs(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RejectsInvalidRecord(t *testing.T) {
	bad := record("run", 0)
	assert.Error(t, NewMemoryStore().AppendEpoch(context.Background(), bad))
}

func TestMemoryStore_CopiesPicks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := record("run", 1)
	require.NoError(t, store.AppendEpoch(ctx, r))
	r.BestPicks[0] = 99

	got, err := store.ListEpochs(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, got[0].BestPicks)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(errors.Join(errors.New("wrapped"), &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}
