package repository

import (
	"context"
	"sync"
)

// MemoryCounters is an in-process CounterStore for tests and local runs.
type MemoryCounters struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{seqs: make(map[string]int64)}
}

func (m *MemoryCounters) Next(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[key]++
	return m.seqs[key], nil
}
