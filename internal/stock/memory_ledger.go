package stock

import (
	"context"
	"sync"
)

// MemoryLedger implements Ledger with in-memory counters. Used in tests
// and local runs without a real catalog behind it.
type MemoryLedger struct {
	mu     sync.Mutex
	counts map[string]int
	active map[string]bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		counts: make(map[string]int),
		active: make(map[string]bool),
	}
}

// SetStock sets the available quantity for a product and marks it active.
func (l *MemoryLedger) SetStock(productID string, qty int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[productID] = qty
	l.active[productID] = true
}

// SetActive toggles a product's sellable state.
func (l *MemoryLedger) SetActive(productID string, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[productID] = active
}

// Stock returns the current available quantity.
func (l *MemoryLedger) Stock(productID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[productID]
}

func (l *MemoryLedger) Reserve(_ context.Context, productID string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, exists := l.counts[productID]
	if !exists {
		return ErrProductNotFound
	}
	if !l.active[productID] {
		return ErrProductUnavailable
	}
	if count < qty {
		return ErrInsufficientStock
	}
	l.counts[productID] = count - qty
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, productID string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.counts[productID]; !exists {
		return ErrProductNotFound
	}
	l.counts[productID] += qty
	return nil
}
