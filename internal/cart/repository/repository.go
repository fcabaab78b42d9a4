package repository

import (
	"context"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/domain"
)

// CartRepository defines the interface for cart data operations.
// Consumers define this interface, not the MongoDB implementation.
//
// Mutations go through UpsertCart with a fully derived cart document so
// totals are computed in one place before a single persist call.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// UpsertCart writes the cart guarded by its version: the write only
	// lands if the stored version still matches cart.Version. On a
	// mismatch it returns ErrStaleCart and the caller reloads and
	// reapplies its change.
	UpsertCart(ctx context.Context, cart *domain.Cart) error
	// ClearItems empties the cart's items and zeroes its totals without
	// deleting the document.
	ClearItems(ctx context.Context, userID string) error
}
