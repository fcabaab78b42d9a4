package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/apperr"
	cartdomain "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/catalog"
	orderdomain "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/service"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/stock"
)

type fixture struct {
	coordinator *Coordinator
	carts       *MockCarts
	ledger      *stock.MemoryLedger
	orders      *MockOrders
	attempts    *MockAttempts
}

func testAddress() orderdomain.Address {
	return orderdomain.Address{
		Name:       "A Buyer",
		Line1:      "12 Main St",
		City:       "Chennai",
		State:      "TN",
		PostalCode: "600001",
		Country:    "IN",
	}
}

func testRequest(key string) *Request {
	return &Request{
		UserID:          "buyer1",
		IdempotencyKey:  key,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
		PaymentMethod:   "card",
	}
}

// newFixture wires a coordinator over two products: p1 (stock 5, 100.0)
// and p2 (stock 5, 250.0), with a cart holding 2×p1 and 1×p2.
func newFixture() *fixture {
	carts := &MockCarts{
		Cart: &cartdomain.Cart{
			UserID: "buyer1",
			Items: []cartdomain.CartItem{
				{ProductID: "p1", Quantity: 2, UnitPriceAtAdd: 100},
				{ProductID: "p2", Quantity: 1, UnitPriceAtAdd: 250, ShippingSelected: true},
			},
		},
	}
	carts.Cart.DeriveTotals()

	products := &MockProducts{Products: map[string]*catalog.Product{
		"p1": {ID: "p1", SellerID: "s1", Title: "Lamp", Price: 100, Status: catalog.StatusActive},
		"p2": {ID: "p2", SellerID: "s2", Title: "Desk", Price: 250, Status: catalog.StatusActive},
	}}

	ledger := stock.NewMemoryLedger()
	ledger.SetStock("p1", 5)
	ledger.SetStock("p2", 5)

	attempts := NewMockAttempts()
	orders := NewMockOrders(attempts)
	numbering := service.NewNumberingAt(repository.NewMemoryCounters(), func() time.Time {
		return time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	})

	return &fixture{
		coordinator: NewCoordinator(carts, products, ledger, orders, attempts, numbering, nil),
		carts:       carts,
		ledger:      ledger,
		orders:      orders,
		attempts:    attempts,
	}
}

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture()

	order, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.NoError(t, err)

	assert.Equal(t, "ECO2509010001", order.OrderNumber)
	assert.Equal(t, orderdomain.StatusPending, order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "s1", order.Items[0].SellerID)
	assert.Equal(t, 100.0, order.Items[0].PriceSnapshot)

	// subtotal 2×100 + 250, shipping on p2 only
	assert.Equal(t, 450.0, order.Totals.Subtotal)
	assert.Equal(t, cartdomain.FlatShippingFee, order.Totals.ShippingCost)
	assert.Equal(t, 450.0+cartdomain.FlatShippingFee, order.Totals.Total)

	require.Len(t, order.Timeline, 1)
	assert.Equal(t, "Order created", order.Timeline[0].Note)

	assert.Equal(t, 3, f.ledger.Stock("p1"))
	assert.Equal(t, 4, f.ledger.Stock("p2"))
	assert.True(t, f.carts.Cleared)
	assert.Len(t, f.orders.Orders, 1)
}

func TestCreateOrder_MissingIdempotencyKey(t *testing.T) {
	f := newFixture()

	_, err := f.coordinator.CreateOrder(context.Background(), testRequest(""))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture()
	f.carts.Cart.Items = nil

	_, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, f.orders.Orders)
}

func TestCreateOrder_InsufficientStock_RollsBackAllReservations(t *testing.T) {
	f := newFixture()
	f.ledger.SetStock("p2", 0) // second line cannot be reserved

	_, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	// all-or-nothing: p1's reservation was released, nothing persisted,
	// cart untouched
	assert.Equal(t, 5, f.ledger.Stock("p1"))
	assert.Equal(t, 0, f.ledger.Stock("p2"))
	assert.Empty(t, f.orders.Orders)
	assert.False(t, f.carts.Cleared)
}

func TestCreateOrder_InactiveProduct_NoReservations(t *testing.T) {
	f := newFixture()
	f.coordinator.products.(*MockProducts).Products["p1"].Status = catalog.StatusInactive

	_, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	assert.Equal(t, 5, f.ledger.Stock("p1"))
	assert.Equal(t, 5, f.ledger.Stock("p2"))
	assert.Empty(t, f.orders.Orders)
}

func TestCreateOrder_DuplicateKey_ReturnsExistingOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.coordinator.CreateOrder(ctx, testRequest("key-1"))
	require.NoError(t, err)

	second, err := f.coordinator.CreateOrder(ctx, testRequest("key-1"))
	require.NoError(t, err)

	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Len(t, f.orders.Orders, 1)
	// stock decremented exactly once
	assert.Equal(t, 3, f.ledger.Stock("p1"))
	assert.Equal(t, 4, f.ledger.Stock("p2"))
}

func TestCreateOrder_PersistFailure_ReleasesStock(t *testing.T) {
	f := newFixture()
	storeDown := errors.New("store unavailable")
	f.orders.CreateErrs = []error{storeDown, storeDown, storeDown}

	_, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTransientStore))

	assert.Equal(t, 5, f.ledger.Stock("p1"))
	assert.Equal(t, 5, f.ledger.Stock("p2"))
	assert.Empty(t, f.orders.Orders)
	assert.False(t, f.carts.Cleared)

	// the key is reusable: a retry completes the checkout
	order, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.NoError(t, err)
	assert.Len(t, f.orders.Orders, 1)
	assert.Equal(t, 3, f.ledger.Stock("p1"))
	assert.NotEmpty(t, order.OrderNumber)
}

func TestCreateOrder_TransientPersistError_RetriedInPlace(t *testing.T) {
	f := newFixture()
	f.orders.CreateErrs = []error{errors.New("timeout"), errors.New("timeout")} // third try succeeds

	order, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.NoError(t, err)
	assert.Len(t, f.orders.Orders, 1)
	assert.Equal(t, order.OrderNumber, f.orders.Orders[order.OrderNumber].OrderNumber)
}

// A crash between reservation and persist leaves a STOCK_RESERVED attempt
// with the stock held. Replaying the key must finish the saga without
// reserving again or creating a second order.
func TestCreateOrder_ResumeAfterCrash(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// simulate the crashed first run: stock held, attempt recorded
	require.NoError(t, f.ledger.Reserve(ctx, "p1", 2))
	require.NoError(t, f.ledger.Reserve(ctx, "p2", 1))
	attempt, claimed, err := f.attempts.ClaimAttempt(ctx, "key-1", "buyer1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, f.attempts.MarkAttemptReserving(ctx, attempt.ID, []repository.ReservedLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}))
	require.NoError(t, f.attempts.MarkAttemptReserved(ctx, attempt.ID))

	order, err := f.coordinator.CreateOrder(ctx, testRequest("key-1"))
	require.NoError(t, err)

	assert.Len(t, f.orders.Orders, 1)
	// exactly one reservation total, not two
	assert.Equal(t, 3, f.ledger.Stock("p1"))
	assert.Equal(t, 4, f.ledger.Stock("p2"))
	assert.True(t, f.carts.Cleared)
	assert.Equal(t, orderdomain.StatusPending, order.Status)
}

// A replay arriving while the first run of the key is still in flight
// must not enter the saga: one key, one reservation, one order.
func TestCreateOrder_InFlightKey_Conflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// the first run holds the claim and has not finished
	_, claimed, err := f.attempts.ClaimAttempt(ctx, "key-1", "buyer1")
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.coordinator.CreateOrder(ctx, testRequest("key-1"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	// nothing moved: no order, no reservation
	assert.Empty(t, f.orders.Orders)
	assert.Equal(t, 5, f.ledger.Stock("p1"))
	assert.Equal(t, 5, f.ledger.Stock("p2"))
}

func TestCreateOrder_ConcurrentSameKey_SingleOrder(t *testing.T) {
	f := newFixture()
	const replays = 10

	var wg sync.WaitGroup
	for i := 0; i < replays; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
			if err != nil {
				// losers of the claim race get a retryable conflict
				assert.True(t, apperr.IsKind(err, apperr.KindConflict))
				return
			}
			assert.Equal(t, "ECO2509010001", order.OrderNumber)
		}()
	}
	wg.Wait()

	assert.Len(t, f.orders.Orders, 1)
	// stock decremented exactly once across every replay
	assert.Equal(t, 3, f.ledger.Stock("p1"))
	assert.Equal(t, 4, f.ledger.Stock("p2"))
}

// The intended lines are recorded on the attempt before the first
// decrement, so a crash mid-reserve leaves a record the recovery sweep
// can compensate.
func TestCreateOrder_RecordsLinesBeforeReserving(t *testing.T) {
	f := newFixture()
	f.ledger.SetStock("p2", 0) // reservation fails on the second line

	_, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.Error(t, err)

	// the failed attempt still carries its intended lines; they were
	// written before the ledger was touched
	attempt := f.attempts.ByKey["key-1"]
	require.NotNil(t, attempt)
	assert.Equal(t, repository.AttemptFailed, attempt.Status)
	assert.Equal(t, []repository.ReservedLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}, attempt.Lines)
}

// A persist that times out after actually committing surfaces as a
// duplicate order number on retry. That duplicate means the order
// exists: it is returned, and the reservations behind it stay held.
func TestCreateOrder_AmbiguousPersist_ReturnsCommittedOrder(t *testing.T) {
	f := newFixture()
	f.orders.AmbiguousWrites = true
	f.orders.CreateErrs = []error{errors.New("write timeout")}

	order, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.NoError(t, err)

	assert.Equal(t, "ECO2509010001", order.OrderNumber)
	assert.Len(t, f.orders.Orders, 1)
	// the committed order keeps its stock; nothing was released back
	assert.Equal(t, 3, f.ledger.Stock("p1"))
	assert.Equal(t, 4, f.ledger.Stock("p2"))
}

// A duplicate number that is not our own commit is a counter anomaly:
// the saga takes a fresh number instead of failing the checkout.
func TestCreateOrder_NumberCollision_TakesFreshNumber(t *testing.T) {
	f := newFixture()
	f.orders.Orders["ECO2509010001"] = &orderdomain.Order{OrderNumber: "ECO2509010001"}

	order, err := f.coordinator.CreateOrder(context.Background(), testRequest("key-1"))
	require.NoError(t, err)

	assert.Equal(t, "ECO2509010002", order.OrderNumber)
	assert.Equal(t, 3, f.ledger.Stock("p1"))
	assert.Equal(t, 4, f.ledger.Stock("p2"))
}

// Concurrent checkouts against stock S must never reserve more than S
// units across all successful orders.
func TestCreateOrder_Concurrent_NoOversell(t *testing.T) {
	const buyers = 20
	const available = 7

	products := &MockProducts{Products: map[string]*catalog.Product{
		"p1": {ID: "p1", SellerID: "s1", Title: "Lamp", Price: 100, Status: catalog.StatusActive},
	}}
	ledger := stock.NewMemoryLedger()
	ledger.SetStock("p1", available)

	numbering := service.NewNumbering(repository.NewMemoryCounters())

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	allOrders := make(map[string]*orderdomain.Order)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			attempts := NewMockAttempts()
			orders := NewMockOrders(attempts)
			carts := &MockCarts{Cart: &cartdomain.Cart{
				UserID: fmt.Sprintf("buyer%d", n),
				Items:  []cartdomain.CartItem{{ProductID: "p1", Quantity: 1, UnitPriceAtAdd: 100}},
			}}
			coordinator := NewCoordinator(carts, products, ledger, orders, attempts, numbering, nil)

			req := testRequest(fmt.Sprintf("key-%d", n))
			req.UserID = carts.Cart.UserID
			order, err := coordinator.CreateOrder(context.Background(), req)
			if err == nil {
				mu.Lock()
				succeeded++
				allOrders[order.OrderNumber] = order
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, available, succeeded)
	assert.Len(t, allOrders, available)
	assert.Equal(t, 0, ledger.Stock("p1"))
}
