package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
)

const orderNumberPrefix = "ECO"

// Numbering issues date-sequenced order numbers of the form
// ECO + YYMMDD + 4-digit sequence. The sequence comes from an atomic
// per-day counter, so concurrent checkouts on the same day cannot collide.
type Numbering struct {
	counters repository.CounterStore
	now      func() time.Time
}

func NewNumbering(counters repository.CounterStore) *Numbering {
	return &Numbering{counters: counters, now: time.Now}
}

// NewNumberingAt pins the clock, for tests.
func NewNumberingAt(counters repository.CounterStore, now func() time.Time) *Numbering {
	return &Numbering{counters: counters, now: now}
}

func (n *Numbering) NextOrderNumber(ctx context.Context) (string, error) {
	day := n.now().Format("060102")
	seq, err := n.counters.Next(ctx, "orders-"+day)
	if err != nil {
		return "", fmt.Errorf("failed to get order sequence: %w", err)
	}
	return fmt.Sprintf("%s%s%04d", orderNumberPrefix, day, seq), nil
}
