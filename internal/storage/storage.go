package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cartridge/summarizer/internal/types"
)

var (
	// ErrNotFound indicates the requested run has no history.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an epoch was already recorded for the run.
	ErrConflict = errors.New("conflict")
)

// HistoryStore captures the persistence operations for epoch history.
type HistoryStore interface {
	AppendEpoch(ctx context.Context, record types.EpochRecord) error
	ListEpochs(ctx context.Context, runID string) ([]types.EpochRecord, error)
	Close() error
}

// MemoryStore is an in-memory HistoryStore for development/testing.
type MemoryStore struct {
	mu     sync.RWMutex
	epochs map[string]map[int]types.EpochRecord // runID -> epoch -> record
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{epochs: make(map[string]map[int]types.EpochRecord)}
}

// AppendEpoch inserts a record, enforcing one record per (run, epoch).
func (m *MemoryStore) AppendEpoch(_ context.Context, record types.EpochRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.epochs[record.RunID]
	if !ok {
		run = make(map[int]types.EpochRecord)
		m.epochs[record.RunID] = run
	}
	if _, exists := run[record.Epoch]; exists {
		return ErrConflict
	}
	record.BestPicks = append([]int(nil), record.BestPicks...)
	run[record.Epoch] = record
	return nil
}

// ListEpochs returns a run's records ordered by epoch.
func (m *MemoryStore) ListEpochs(_ context.Context, runID string) ([]types.EpochRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.epochs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]types.EpochRecord, 0, len(run))
	for _, record := range run {
		record.BestPicks = append([]int(nil), record.BestPicks...)
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out, nil
}

// Close satisfies HistoryStore.
func (m *MemoryStore) Close() error { return nil }
