package stock

import (
	"context"
	"errors"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not sellable")
	ErrInsufficientStock  = errors.New("insufficient stock")
)

// Ledger is the engine's only path to a product's available quantity.
// Reserve must be a single conditional decrement: a separate
// check-then-decrement would let two concurrent checkouts both pass the
// check and oversell.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}
