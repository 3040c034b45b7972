package journal

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is a Journal held in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
	// order holds record ids in insertion order.
	order []string
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

// Begin implements Journal.
func (m *Memory) Begin(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("transfer already recorded: %s", rec.ID)
	}
	recCopy := *rec
	m.records[rec.ID] = &recCopy
	m.order = append(m.order, rec.ID)
	return nil
}

// Finish implements Journal.
func (m *Memory) Finish(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[rec.ID]
	if !ok {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, ErrNotFound)
	}
	existing.State = rec.State
	existing.Bytes = rec.Bytes
	existing.Parts = rec.Parts
	existing.Error = rec.Error
	existing.FinishedAt = rec.FinishedAt
	return nil
}

// Get implements Journal.
func (m *Memory) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	recCopy := *rec
	return &recCopy, nil
}

// List implements Journal.
func (m *Memory) List(ctx context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.order))
	for _, id := range slices.Backward(m.order) {
		records = append(records, *m.records[id])
	}
	slices.SortStableFunc(records, func(a, b Record) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close implements Journal.
func (m *Memory) Close() error {
	return nil
}
