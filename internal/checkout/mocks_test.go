package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	cartdomain "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/catalog"
	orderdomain "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
)

// MockCarts implements CartAccess.
type MockCarts struct {
	mu      sync.Mutex
	Cart    *cartdomain.Cart
	GetErr  error
	Cleared bool
}

func (m *MockCarts) GetCart(context.Context, string) (*cartdomain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if m.Cleared {
		return &cartdomain.Cart{UserID: m.Cart.UserID}, nil
	}
	return m.Cart, nil
}

func (m *MockCarts) ClearCart(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cleared = true
	return nil
}

// MockProducts implements catalog.ProductReader.
type MockProducts struct {
	Products map[string]*catalog.Product
}

func (m *MockProducts) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m.Products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

// MockOrders implements repository.OrderRepository. CreateErrs is a queue
// of injected failures consumed by successive CreateOrder calls; with
// AmbiguousWrites set each injected failure still commits the order, the
// way a timed-out write that actually landed does.
type MockOrders struct {
	mu              sync.Mutex
	Orders          map[string]*orderdomain.Order
	CreateErrs      []error
	AmbiguousWrites bool
	Attempts        *MockAttempts
}

func NewMockOrders(attempts *MockAttempts) *MockOrders {
	return &MockOrders{
		Orders:   make(map[string]*orderdomain.Order),
		Attempts: attempts,
	}
}

func (m *MockOrders) CreateOrder(_ context.Context, order *orderdomain.Order, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var injected error
	if len(m.CreateErrs) > 0 {
		injected = m.CreateErrs[0]
		m.CreateErrs = m.CreateErrs[1:]
		if injected != nil && !m.AmbiguousWrites {
			return injected
		}
	}
	if _, exists := m.Orders[order.OrderNumber]; exists {
		return repository.ErrDuplicateOrder
	}
	if !m.Attempts.complete(attemptID, order.OrderNumber) {
		return repository.ErrAttemptCompleted
	}
	m.Orders[order.OrderNumber] = order
	return injected
}

func (m *MockOrders) GetOrder(_ context.Context, orderNumber string) (*orderdomain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.Orders[orderNumber]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (m *MockOrders) ListOrders(context.Context, repository.ListQuery) ([]*orderdomain.Order, *repository.Pagination, error) {
	return nil, nil, nil
}

func (m *MockOrders) UpdateOrder(_ context.Context, order *orderdomain.Order, _ *repository.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders[order.OrderNumber] = order
	return nil
}

func (m *MockOrders) MarkStockReleased(_ context.Context, orderNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.Orders[orderNumber]; ok {
		order.StockReleased = true
	}
	return nil
}

func (m *MockOrders) FindUnreleasedCancelled(context.Context, int) ([]*orderdomain.Order, error) {
	return nil, nil
}

// MockAttempts implements repository.AttemptRepository over a map keyed
// by idempotency key.
type MockAttempts struct {
	mu       sync.Mutex
	ByKey    map[string]*repository.CheckoutAttempt
	ClaimErr error
}

func NewMockAttempts() *MockAttempts {
	return &MockAttempts{ByKey: make(map[string]*repository.CheckoutAttempt)}
}

func (m *MockAttempts) ClaimAttempt(_ context.Context, key, userID string) (*repository.CheckoutAttempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return nil, false, m.ClaimErr
	}
	if existing, ok := m.ByKey[key]; ok {
		if existing.Status == repository.AttemptFailed {
			existing.Status = repository.AttemptPending
			existing.Lines = nil
			existing.Reason = ""
			copied := *existing
			return &copied, true, nil
		}
		copied := *existing
		return &copied, false, nil
	}
	attempt := &repository.CheckoutAttempt{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		UserID:         userID,
		Status:         repository.AttemptPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	m.ByKey[key] = attempt
	copied := *attempt
	return &copied, true, nil
}

func (m *MockAttempts) MarkAttemptReserving(_ context.Context, attemptID string, lines []repository.ReservedLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := m.byID(attemptID)
	if attempt == nil {
		return repository.ErrAttemptNotFound
	}
	attempt.Status = repository.AttemptReserving
	attempt.Lines = lines
	return nil
}

func (m *MockAttempts) MarkAttemptReserved(_ context.Context, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := m.byID(attemptID)
	if attempt == nil {
		return repository.ErrAttemptNotFound
	}
	attempt.Status = repository.AttemptReserved
	return nil
}

func (m *MockAttempts) MarkAttemptFailed(_ context.Context, attemptID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := m.byID(attemptID)
	if attempt == nil {
		return repository.ErrAttemptNotFound
	}
	attempt.Status = repository.AttemptFailed
	attempt.Reason = reason
	return nil
}

func (m *MockAttempts) GetAttempt(_ context.Context, attemptID string) (*repository.CheckoutAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := m.byID(attemptID)
	if attempt == nil {
		return nil, repository.ErrAttemptNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (m *MockAttempts) FindStaleAttempts(context.Context, time.Duration, int) ([]*repository.CheckoutAttempt, error) {
	return nil, nil
}

// complete reports false when the attempt already carries an order, the
// way the store's conditional completion does.
func (m *MockAttempts) complete(attemptID, orderNumber string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := m.byID(attemptID)
	if attempt == nil || attempt.Status == repository.AttemptCompleted {
		return false
	}
	attempt.Status = repository.AttemptCompleted
	attempt.OrderNumber = orderNumber
	return true
}

func (m *MockAttempts) byID(attemptID string) *repository.CheckoutAttempt {
	for _, attempt := range m.ByKey {
		if attempt.ID == attemptID {
			return attempt
		}
	}
	return nil
}
