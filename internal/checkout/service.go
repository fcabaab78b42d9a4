package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/apperr"
	cartdomain "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/catalog"
	orderdomain "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/service"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/stock"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/pkg/logging"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/pkg/metrics"
)

const persistRetries = 3

// CartAccess is the slice of the cart aggregator the coordinator needs.
type CartAccess interface {
	GetCart(ctx context.Context, userID string) (*cartdomain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type Request struct {
	UserID          string
	IdempotencyKey  string
	ShippingAddress orderdomain.Address
	BillingAddress  orderdomain.Address
	PaymentMethod   string
	Notes           string
}

// Coordinator turns a cart into an order. Replaying a request's
// idempotency key always lands on the same attempt record, so retries
// after a crash cannot double-reserve stock or create a second order.
type Coordinator struct {
	carts     CartAccess
	products  catalog.ProductReader
	ledger    stock.Ledger
	orders    repository.OrderRepository
	attempts  repository.AttemptRepository
	numbering *service.Numbering
	metrics   *metrics.EngineMetrics
	now       func() time.Time
}

func NewCoordinator(
	carts CartAccess,
	products catalog.ProductReader,
	ledger stock.Ledger,
	orders repository.OrderRepository,
	attempts repository.AttemptRepository,
	numbering *service.Numbering,
	m *metrics.EngineMetrics,
) *Coordinator {
	return &Coordinator{
		carts:     carts,
		products:  products,
		ledger:    ledger,
		orders:    orders,
		attempts:  attempts,
		numbering: numbering,
		metrics:   m,
		now:       time.Now,
	}
}

// CreateOrder leaves the system in one of two states: order created,
// every line's stock reserved, cart emptied — or nothing changed and a
// classified error.
func (c *Coordinator) CreateOrder(ctx context.Context, req *Request) (*orderdomain.Order, error) {
	if req.IdempotencyKey == "" {
		return nil, apperr.Validation("idempotency key is required")
	}

	attempt, claimed, err := c.attempts.ClaimAttempt(ctx, req.IdempotencyKey, req.UserID)
	if err != nil {
		return nil, apperr.Transient("failed to claim checkout attempt", err)
	}
	if claimed {
		return c.run(ctx, req, attempt)
	}

	switch attempt.Status {
	case repository.AttemptCompleted:
		// Duplicate request: hand back the order already created.
		log.Printf("duplicate checkout request idempotency_key=%s order=%s", req.IdempotencyKey, attempt.OrderNumber)
		order, errGet := c.orders.GetOrder(ctx, attempt.OrderNumber)
		if errGet != nil {
			return nil, apperr.Transient("failed to load completed order", errGet)
		}
		return order, nil
	case repository.AttemptReserved:
		// A previous run died after reserving stock. Finish its saga
		// instead of reserving again.
		return c.resume(ctx, req, attempt)
	default:
		// PENDING or RESERVING belongs to a run still in flight. Letting
		// a replay fall into the saga here is how a key reserves twice.
		// If that run is dead, the recovery sweep fails the attempt and a
		// later retry reopens it.
		return nil, apperr.Wrap(apperr.KindConflict, "checkout already in progress, retry shortly", ErrCheckoutInProgress)
	}
}

// run executes the saga from the top: snapshot, reserve, persist, clear.
func (c *Coordinator) run(ctx context.Context, req *Request, attempt *repository.CheckoutAttempt) (*orderdomain.Order, error) {
	items, err := c.snapshotCart(ctx, req.UserID)
	if err != nil {
		c.fail(ctx, attempt, err)
		return nil, err
	}

	// Record the intended lines before touching the ledger: a crash
	// anywhere past this point leaves an attempt the recovery sweep can
	// compensate, never a decrement nobody knows about.
	lines := make([]repository.ReservedLine, len(items))
	for i, item := range items {
		lines[i] = repository.ReservedLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	if err := c.attempts.MarkAttemptReserving(ctx, attempt.ID, lines); err != nil {
		c.fail(ctx, attempt, err)
		return nil, apperr.Transient("failed to record reservation intent", err)
	}

	reserved, err := c.reserveAll(ctx, attempt, items)
	if err != nil {
		c.rollbackReservations(ctx, attempt.ID, reserved)
		c.fail(ctx, attempt, err)
		return nil, err
	}

	if err := c.attempts.MarkAttemptReserved(ctx, attempt.ID); err != nil {
		c.rollbackReservations(ctx, attempt.ID, reserved)
		c.fail(ctx, attempt, err)
		return nil, apperr.Transient("failed to record reservations", err)
	}

	return c.finish(ctx, req, attempt, items)
}

// resume finishes a saga that crashed after its reservations were
// recorded. Stock is already held; only persist and clear remain.
func (c *Coordinator) resume(ctx context.Context, req *Request, attempt *repository.CheckoutAttempt) (*orderdomain.Order, error) {
	logging.Log(logging.Fields{
		Component: "checkout",
		AttemptID: attempt.ID,
		UserID:    req.UserID,
		Step:      "resume",
		Status:    "reserved",
	})

	items, err := c.snapshotCart(ctx, req.UserID)
	if err != nil {
		// Cart vanished under a reserved attempt: give the stock back.
		c.rollbackReservations(ctx, attempt.ID, attempt.Lines)
		c.fail(ctx, attempt, err)
		return nil, err
	}
	if !linesMatch(attempt.Lines, items) {
		c.rollbackReservations(ctx, attempt.ID, attempt.Lines)
		c.fail(ctx, attempt, ErrReservationMismatch)
		return nil, apperr.Wrap(apperr.KindConflict, "cart changed since reservation, retry checkout", ErrReservationMismatch)
	}

	return c.finish(ctx, req, attempt, items)
}

// finish persists the order transactionally and clears the cart. On
// persistence failure every reservation is released before the error is
// returned — no failure path leaves stock held.
func (c *Coordinator) finish(ctx context.Context, req *Request, attempt *repository.CheckoutAttempt, items []orderdomain.Item) (*orderdomain.Order, error) {
	start := c.now()

	orderNumber, err := c.numbering.NextOrderNumber(ctx)
	if err != nil {
		c.rollbackItems(ctx, attempt.ID, items)
		c.fail(ctx, attempt, err)
		return nil, apperr.Transient("failed to generate order number", err)
	}

	order, err := orderdomain.NewOrder(orderNumber, req.UserID, items,
		req.ShippingAddress, req.BillingAddress, req.PaymentMethod, req.Notes, c.now())
	if err != nil {
		c.rollbackItems(ctx, attempt.ID, items)
		c.fail(ctx, attempt, err)
		return nil, apperr.Wrap(apperr.KindValidation, "invalid order", err)
	}
	order.StockReleased = false

	var persistErr error
	for i := 0; i < persistRetries; i++ {
		persistErr = c.orders.CreateOrder(ctx, order, attempt.ID)
		if persistErr == nil {
			break
		}
		if errors.Is(persistErr, repository.ErrAttemptCompleted) {
			// Another run of this attempt committed first. Its order owns
			// the reservations; hand it back without releasing anything.
			return c.completedOrder(ctx, attempt.ID)
		}
		if errors.Is(persistErr, repository.ErrDuplicateOrder) {
			// Order numbers are unique per attempt, so a duplicate
			// usually means our own earlier write committed despite the
			// ambiguous error it returned.
			existing, errGet := c.attempts.GetAttempt(ctx, attempt.ID)
			if errGet == nil && existing.Status == repository.AttemptCompleted {
				return c.completedOrder(ctx, attempt.ID)
			}
			// Genuine number collision: take a fresh number and retry.
			number, errNum := c.numbering.NextOrderNumber(ctx)
			if errNum != nil {
				persistErr = errNum
				break
			}
			order.OrderNumber = number
		}
	}
	if persistErr != nil {
		c.rollbackItems(ctx, attempt.ID, items)
		c.fail(ctx, attempt, persistErr)
		return nil, apperr.Transient("failed to persist order", persistErr)
	}
	orderNumber = order.OrderNumber

	if err := c.carts.ClearCart(ctx, req.UserID); err != nil {
		// The order exists and the attempt is completed; a stale cart is
		// an inconvenience, not an inconsistency.
		log.Printf("failed to clear cart for user %s after checkout: %v", req.UserID, err)
	}

	c.countCheckout("completed")
	logging.Log(logging.Fields{
		Component:  "checkout",
		AttemptID:  attempt.ID,
		OrderNum:   orderNumber,
		UserID:     req.UserID,
		Step:       "complete",
		Status:     "completed",
		DurationMS: time.Since(start).Milliseconds(),
	})
	return order, nil
}

// snapshotCart locks each line's current catalog price and seller into
// order items. Prices are never re-read after this point.
func (c *Coordinator) snapshotCart(ctx context.Context, userID string) ([]orderdomain.Item, error) {
	cart, err := c.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, apperr.Transient("failed to load cart", err)
	}
	if cart.IsEmpty() {
		return nil, apperr.Wrap(apperr.KindValidation, "cart is empty", ErrEmptyCart)
	}

	items := make([]orderdomain.Item, 0, len(cart.Items))
	for _, line := range cart.Items {
		product, errGet := c.products.GetProduct(ctx, line.ProductID)
		if errGet != nil {
			if errors.Is(errGet, catalog.ErrProductNotFound) {
				return nil, apperr.Wrap(apperr.KindNotFound,
					fmt.Sprintf("product %s no longer exists", line.ProductID), errGet)
			}
			return nil, apperr.Transient("failed to load product", errGet)
		}
		if !product.Sellable() {
			return nil, apperr.Wrap(apperr.KindConflict,
				fmt.Sprintf("product %s is not available", line.ProductID), stock.ErrProductUnavailable)
		}

		var shipping float64
		if line.ShippingSelected {
			shipping = cartdomain.FlatShippingFee
		}
		items = append(items, orderdomain.Item{
			ProductID:     line.ProductID,
			SellerID:      product.SellerID,
			Title:         product.Title,
			Quantity:      line.Quantity,
			PriceSnapshot: product.Price,
			ShippingCost:  shipping,
		})
	}
	return items, nil
}

// reserveAll takes the conditional decrement for every line. It returns
// the lines reserved so far; on error the caller rolls those back.
func (c *Coordinator) reserveAll(ctx context.Context, attempt *repository.CheckoutAttempt, items []orderdomain.Item) ([]repository.ReservedLine, error) {
	reserved := make([]repository.ReservedLine, 0, len(items))
	for _, item := range items {
		if err := c.ledger.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			switch {
			case errors.Is(err, stock.ErrInsufficientStock):
				return reserved, apperr.Wrap(apperr.KindConflict,
					fmt.Sprintf("insufficient stock for product %s", item.ProductID), err)
			case errors.Is(err, stock.ErrProductUnavailable):
				return reserved, apperr.Wrap(apperr.KindConflict,
					fmt.Sprintf("product %s is not available", item.ProductID), err)
			case errors.Is(err, stock.ErrProductNotFound):
				return reserved, apperr.Wrap(apperr.KindNotFound,
					fmt.Sprintf("product %s no longer exists", item.ProductID), err)
			default:
				return reserved, apperr.Transient("failed to reserve stock", err)
			}
		}
		reserved = append(reserved, repository.ReservedLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return reserved, nil
}

// completedOrder loads the order a finished attempt points at, for
// replays and raced persists that lost to an earlier commit.
func (c *Coordinator) completedOrder(ctx context.Context, attemptID string) (*orderdomain.Order, error) {
	attempt, err := c.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, apperr.Transient("failed to load completed attempt", err)
	}
	if attempt.OrderNumber == "" {
		return nil, apperr.Transient("completed attempt has no order", repository.ErrOrderNotFound)
	}
	order, err := c.orders.GetOrder(ctx, attempt.OrderNumber)
	if err != nil {
		return nil, apperr.Transient("failed to load completed order", err)
	}
	return order, nil
}

func (c *Coordinator) rollbackItems(ctx context.Context, attemptID string, items []orderdomain.Item) {
	lines := make([]repository.ReservedLine, len(items))
	for i, item := range items {
		lines[i] = repository.ReservedLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	c.rollbackReservations(ctx, attemptID, lines)
}

func (c *Coordinator) rollbackReservations(ctx context.Context, attemptID string, lines []repository.ReservedLine) {
	for _, line := range lines {
		if err := c.ledger.Release(ctx, line.ProductID, line.Quantity); err != nil {
			logging.Log(logging.Fields{
				Component: "checkout",
				AttemptID: attemptID,
				Step:      "rollback_release",
				Status:    "failed",
				Message:   fmt.Sprintf("product %s qty %d: %v", line.ProductID, line.Quantity, err),
			})
		}
	}
}

func (c *Coordinator) fail(ctx context.Context, attempt *repository.CheckoutAttempt, cause error) {
	c.countCheckout(apperr.KindOf(cause).String())
	if err := c.attempts.MarkAttemptFailed(ctx, attempt.ID, cause.Error()); err != nil {
		log.Printf("failed to mark attempt %s failed: %v", attempt.ID, err)
	}
}

func (c *Coordinator) countCheckout(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Checkouts.WithLabelValues(result).Inc()
}

func linesMatch(lines []repository.ReservedLine, items []orderdomain.Item) bool {
	if len(lines) != len(items) {
		return false
	}
	want := make(map[string]int, len(lines))
	for _, line := range lines {
		want[line.ProductID] = line.Quantity
	}
	for _, item := range items {
		if want[item.ProductID] != item.Quantity {
			return false
		}
	}
	return true
}
