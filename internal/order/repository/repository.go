package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrder   = errors.New("order number already exists")
	ErrStaleOrder       = errors.New("order was modified concurrently")
	ErrAttemptNotFound  = errors.New("checkout attempt not found")
	ErrAttemptCompleted = errors.New("checkout attempt already completed")
)

// AttemptStatus tracks a checkout attempt through the saga.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptReserving AttemptStatus = "RESERVING"
	AttemptReserved  AttemptStatus = "STOCK_RESERVED"
	AttemptCompleted AttemptStatus = "COMPLETED"
	AttemptFailed    AttemptStatus = "FAILED"
)

// ReservedLine records one product reservation taken by an attempt, so a
// crashed attempt's reservations can be compensated later.
type ReservedLine struct {
	ProductID string `bson:"product_id"`
	Quantity  int    `bson:"quantity"`
}

// CheckoutAttempt is the idempotency record for one checkout request.
// The idempotency key carries a unique index; replays find the original
// attempt instead of creating a second order.
type CheckoutAttempt struct {
	ID             string         `bson:"_id"`
	IdempotencyKey string         `bson:"idempotency_key"`
	UserID         string         `bson:"user_id"`
	Status         AttemptStatus  `bson:"status"`
	OrderNumber    string         `bson:"order_number,omitempty"`
	Lines          []ReservedLine `bson:"lines,omitempty"`
	Reason         string         `bson:"reason,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at"`
}

// OutboxEvent is written in the same transaction as the order change it
// describes and published asynchronously.
type OutboxEvent struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	OrderNumber string    `bson:"order_number"`
	Payload     []byte    `bson:"payload"`
	Processed   bool      `bson:"processed"`
	CreatedAt   time.Time `bson:"created_at"`
	ProcessedAt time.Time `bson:"processed_at,omitempty"`
}

const (
	EventOrderCreated   = "order.created"
	EventOrderCancelled = "order.cancelled"
)

// ListQuery selects a page of orders for one user in one role.
type ListQuery struct {
	UserID    string
	Role      string // "buyer" or "seller"
	Status    domain.Status
	Page      int
	PageSize  int
	SortBy    string // "created_at" or "total"
	SortOrder string // "asc" or "desc"
}

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int64 `json:"total_pages"`
}

// OrderRepository persists orders together with their outbox rows. The
// create and update operations are transactional: an order change and the
// event describing it land together or not at all.
type OrderRepository interface {
	// CreateOrder inserts the order, an order.created outbox row and the
	// attempt completion in one transaction. It returns
	// ErrAttemptCompleted, with nothing written, when the attempt already
	// carries an order from an earlier commit.
	CreateOrder(ctx context.Context, order *domain.Order, attemptID string) error
	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListOrders(ctx context.Context, q ListQuery) ([]*domain.Order, *Pagination, error)
	// UpdateOrder replaces the order's mutable fields, guarded by
	// order.Version: a concurrent update of the same order since the load
	// yields ErrStaleOrder and nothing is written. event may be nil.
	UpdateOrder(ctx context.Context, order *domain.Order, event *OutboxEvent) error
	// MarkStockReleased flips the release flags on the order's cancelled
	// items, and on the order itself when it is cancelled, once the
	// reservations are back in the ledger.
	MarkStockReleased(ctx context.Context, orderNumber string) error
	// FindUnreleasedCancelled returns orders still holding stock for
	// cancelled items, for the recovery loop.
	FindUnreleasedCancelled(ctx context.Context, limit int) ([]*domain.Order, error)
}

// AttemptRepository stores checkout attempts keyed by idempotency key.
type AttemptRepository interface {
	// ClaimAttempt inserts a fresh pending attempt for the key, or
	// atomically reopens a failed one. The bool reports ownership: true
	// means this caller holds the attempt and may run the saga, false
	// means another run claimed it first and the attempt is returned as
	// it stands.
	ClaimAttempt(ctx context.Context, idempotencyKey, userID string) (*CheckoutAttempt, bool, error)
	// MarkAttemptReserving records the lines the saga is about to
	// reserve. Written before the first decrement so a crash mid-reserve
	// leaves a compensatable record.
	MarkAttemptReserving(ctx context.Context, attemptID string, lines []ReservedLine) error
	MarkAttemptReserved(ctx context.Context, attemptID string) error
	MarkAttemptFailed(ctx context.Context, attemptID, reason string) error
	GetAttempt(ctx context.Context, attemptID string) (*CheckoutAttempt, error)
	// FindStaleAttempts returns attempts stuck short of completion longer
	// than maxAge, whose recorded reservations must be compensated.
	FindStaleAttempts(ctx context.Context, maxAge time.Duration, limit int) ([]*CheckoutAttempt, error)
}

// OutboxRepository feeds the kafka poller.
type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

// CounterStore issues atomic per-key sequence numbers.
type CounterStore interface {
	Next(ctx context.Context, key string) (int64, error)
}
