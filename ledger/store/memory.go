// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/certflow/massbalance-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	events []ledger.LedgerEvent
	pools  map[ledger.PoolID]ledger.MaterialPool
	slices map[ledger.SliceID]ledger.TimeSlice

	// FailAppends makes event writes fail. Tests use it to prove the
	// engine reverts balance deltas when the durable write fails.
	FailAppends bool
}

func NewMemory() *Memory {
	return &Memory{
		pools:  make(map[ledger.PoolID]ledger.MaterialPool),
		slices: make(map[ledger.SliceID]ledger.TimeSlice),
	}
}

type appendFailure struct{}

func (appendFailure) Error() string { return "append failure injected" }

// AppendEvent persists a single event. Append-only.
func (m *Memory) AppendEvent(_ context.Context, e ledger.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppends {
		return appendFailure{}
	}
	m.events = append(m.events, e)
	return nil
}

// AppendEvents persists multiple events atomically.
func (m *Memory) AppendEvents(_ context.Context, events []ledger.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppends {
		return appendFailure{}
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) LoadEvents(_ context.Context) ([]ledger.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.LedgerEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *Memory) SavePool(_ context.Context, p ledger.MaterialPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.ID] = p
	return nil
}

func (m *Memory) LoadPools(_ context.Context) ([]ledger.MaterialPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.MaterialPool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveSlice(_ context.Context, s ledger.TimeSlice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slices[s.ID] = s
	return nil
}

func (m *Memory) LoadSlices(_ context.Context) ([]ledger.TimeSlice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.TimeSlice, 0, len(m.slices))
	for _, s := range m.slices {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) Close() error { return nil }
