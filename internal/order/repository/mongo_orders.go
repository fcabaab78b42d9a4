package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
)

type mongoOrders struct {
	db       *mongo.Database
	orders   *mongo.Collection
	attempts *mongo.Collection
	outbox   *mongo.Collection
}

func NewMongoOrders(db *mongo.Database) OrderRepository {
	return &mongoOrders{
		db:       db,
		orders:   db.Collection("orders"),
		attempts: db.Collection("checkout_attempts"),
		outbox:   db.Collection("outbox"),
	}
}

// withTxn runs fn inside a mongo session transaction. Writes issued with
// the session context commit or abort together.
func (m *mongoOrders) withTxn(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := m.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (m *mongoOrders) CreateOrder(ctx context.Context, order *domain.Order, attemptID string) error {
	event, err := newOutboxEvent(EventOrderCreated, order)
	if err != nil {
		return err
	}

	return m.withTxn(ctx, func(sc mongo.SessionContext) error {
		if _, err := m.orders.InsertOne(sc, order); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}
		if _, err := m.outbox.InsertOne(sc, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		// The completion is conditional so at most one order ever commits
		// per attempt: a second run racing this one aborts here and its
		// order insert rolls back with the transaction.
		filter := bson.M{"_id": attemptID, "status": bson.M{"$ne": AttemptCompleted}}
		update := bson.M{"$set": bson.M{
			"status":       AttemptCompleted,
			"order_number": order.OrderNumber,
			"updated_at":   time.Now(),
		}}
		result, err := m.attempts.UpdateOne(sc, filter, update)
		if err != nil {
			return fmt.Errorf("failed to complete attempt: %w", err)
		}
		if result.MatchedCount == 0 {
			return ErrAttemptCompleted
		}
		return nil
	})
}

func (m *mongoOrders) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	var order domain.Order
	err := m.orders.FindOne(ctx, bson.M{"_id": orderNumber}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (m *mongoOrders) ListOrders(ctx context.Context, q ListQuery) ([]*domain.Order, *Pagination, error) {
	filter := bson.M{}
	switch q.Role {
	case "seller":
		filter["items.seller_id"] = q.UserID
	default:
		filter["buyer_id"] = q.UserID
	}
	if q.Status != "" {
		filter["status"] = q.Status
	}

	total, err := m.orders.CountDocuments(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count orders: %w", err)
	}

	sortField := "created_at"
	if q.SortBy == "total" {
		sortField = "totals.total"
	}
	sortDir := -1
	if q.SortOrder == "asc" {
		sortDir = 1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: sortDir}}).
		SetSkip(int64((q.Page - 1) * q.PageSize)).
		SetLimit(int64(q.PageSize))

	cursor, err := m.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	pag := &Pagination{
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalItems: total,
		TotalPages: (total + int64(q.PageSize) - 1) / int64(q.PageSize),
	}
	return orders, pag, nil
}

func (m *mongoOrders) UpdateOrder(ctx context.Context, order *domain.Order, event *OutboxEvent) error {
	// The version predicate turns the replace into a compare and swap: a
	// write racing another update of the same order misses the filter and
	// surfaces ErrStaleOrder instead of overwriting the committed change.
	filter := bson.M{"_id": order.OrderNumber, "version": order.Version}
	update := bson.M{"$set": bson.M{
		"items":         order.Items,
		"status":        order.Status,
		"timeline":      order.Timeline,
		"communication": order.Communication,
		"updated_at":    order.UpdatedAt,
	}, "$inc": bson.M{
		"version": 1,
	}}

	apply := func(sc context.Context) error {
		result, err := m.orders.UpdateOne(sc, filter, update)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if result.MatchedCount == 0 {
			count, errCount := m.orders.CountDocuments(sc, bson.M{"_id": order.OrderNumber})
			if errCount != nil {
				return fmt.Errorf("failed to check order existence: %w", errCount)
			}
			if count == 0 {
				return ErrOrderNotFound
			}
			return ErrStaleOrder
		}
		return nil
	}

	if event == nil {
		if err := apply(ctx); err != nil {
			return err
		}
		order.Version++
		return nil
	}

	err := m.withTxn(ctx, func(sc mongo.SessionContext) error {
		if err := apply(sc); err != nil {
			return err
		}
		if _, err := m.outbox.InsertOne(sc, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.Version++
	return nil
}

func (m *mongoOrders) MarkStockReleased(ctx context.Context, orderNumber string) error {
	// Flag the cancelled items first. Bumping the version makes any
	// in-flight load-then-write of this order retry and pick the flags
	// up instead of writing stale items back.
	update := bson.M{
		"$set": bson.M{"items.$[line].stock_released": true, "updated_at": time.Now()},
		"$inc": bson.M{"version": 1},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"line.status": domain.StatusCancelled}},
	})
	result, err := m.orders.UpdateByID(ctx, orderNumber, update, opts)
	if err != nil {
		return fmt.Errorf("failed to mark item stock released: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrOrderNotFound
	}

	// The order-level flag applies only to fully cancelled orders.
	filter := bson.M{"_id": orderNumber, "status": domain.StatusCancelled}
	orderUpdate := bson.M{
		"$set": bson.M{"stock_released": true},
		"$inc": bson.M{"version": 1},
	}
	if _, err := m.orders.UpdateOne(ctx, filter, orderUpdate); err != nil {
		return fmt.Errorf("failed to mark stock released: %w", err)
	}
	return nil
}

func (m *mongoOrders) FindUnreleasedCancelled(ctx context.Context, limit int) ([]*domain.Order, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"status": domain.StatusCancelled, "stock_released": false},
		bson.M{"items": bson.M{"$elemMatch": bson.M{
			"status":         domain.StatusCancelled,
			"stock_released": false,
		}}},
	}}
	opts := options.Find().SetLimit(int64(limit))

	cursor, err := m.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find unreleased cancellations: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}

func newOutboxEvent(eventType string, order *domain.Order) (*OutboxEvent, error) {
	payload, err := bson.MarshalExtJSON(bson.M{
		"order_number": order.OrderNumber,
		"buyer_id":     order.BuyerID,
		"status":       order.Status,
		"total":        order.Totals.Total,
	}, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &OutboxEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		OrderNumber: order.OrderNumber,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}, nil
}

// NewCancellationEvent builds the outbox row persisted with a
// cancellation.
func NewCancellationEvent(order *domain.Order) (*OutboxEvent, error) {
	return newOutboxEvent(EventOrderCancelled, order)
}
