package checkout

import "errors"

var (
	ErrEmptyCart           = errors.New("cart is empty, nothing to checkout")
	ErrReservationMismatch = errors.New("reserved lines no longer match the cart")
	ErrCheckoutInProgress  = errors.New("a checkout for this idempotency key is already running")
)
