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
)

type mongoAttempts struct {
	collection *mongo.Collection
}

func NewMongoAttempts(db *mongo.Database) AttemptRepository {
	return &mongoAttempts{collection: db.Collection("checkout_attempts")}
}

// EnsureIndexes creates the order store's indexes at startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	attempts := &mongoAttempts{collection: db.Collection("checkout_attempts")}
	if err := attempts.CreateIndexes(ctx); err != nil {
		return err
	}

	outbox := []mongo.IndexModel{{
		Keys: bson.D{{Key: "processed", Value: 1}, {Key: "created_at", Value: 1}},
	}}
	if _, err := db.Collection("outbox").Indexes().CreateMany(ctx, outbox); err != nil {
		return fmt.Errorf("failed to create outbox indexes: %w", err)
	}

	orders := []mongo.IndexModel{
		{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "items.seller_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "stock_released", Value: 1}}},
		{Keys: bson.D{{Key: "items.status", Value: 1}, {Key: "items.stock_released", Value: 1}}},
	}
	if _, err := db.Collection("orders").Indexes().CreateMany(ctx, orders); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

func (m *mongoAttempts) ClaimAttempt(ctx context.Context, idempotencyKey, userID string) (*CheckoutAttempt, bool, error) {
	now := time.Now()
	attempt := &CheckoutAttempt{
		ID:             uuid.New().String(),
		IdempotencyKey: idempotencyKey,
		UserID:         userID,
		Status:         AttemptPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := m.collection.InsertOne(ctx, attempt)
	if err == nil {
		return attempt, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("failed to insert attempt: %w", err)
	}

	// Key already claimed. Reopening a failed attempt is a conditional
	// update, so of two concurrent retries exactly one takes ownership;
	// the other falls through to the plain read below.
	filter := bson.M{"idempotency_key": idempotencyKey, "status": AttemptFailed}
	update := bson.M{"$set": bson.M{
		"status":     AttemptPending,
		"lines":      nil,
		"reason":     "",
		"updated_at": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var existing CheckoutAttempt
	err = m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&existing)
	if err == nil {
		return &existing, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to reopen attempt: %w", err)
	}

	err = m.collection.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&existing)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load claimed attempt: %w", err)
	}
	return &existing, false, nil
}

func (m *mongoAttempts) MarkAttemptReserving(ctx context.Context, attemptID string, lines []ReservedLine) error {
	update := bson.M{"$set": bson.M{
		"status":     AttemptReserving,
		"lines":      lines,
		"updated_at": time.Now(),
	}}
	result, err := m.collection.UpdateByID(ctx, attemptID, update)
	if err != nil {
		return fmt.Errorf("failed to mark attempt reserving: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (m *mongoAttempts) MarkAttemptReserved(ctx context.Context, attemptID string) error {
	update := bson.M{"$set": bson.M{
		"status":     AttemptReserved,
		"updated_at": time.Now(),
	}}
	result, err := m.collection.UpdateByID(ctx, attemptID, update)
	if err != nil {
		return fmt.Errorf("failed to mark attempt reserved: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (m *mongoAttempts) MarkAttemptFailed(ctx context.Context, attemptID, reason string) error {
	update := bson.M{"$set": bson.M{
		"status":     AttemptFailed,
		"reason":     reason,
		"updated_at": time.Now(),
	}}
	result, err := m.collection.UpdateByID(ctx, attemptID, update)
	if err != nil {
		return fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (m *mongoAttempts) GetAttempt(ctx context.Context, attemptID string) (*CheckoutAttempt, error) {
	var attempt CheckoutAttempt
	err := m.collection.FindOne(ctx, bson.M{"_id": attemptID}).Decode(&attempt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

func (m *mongoAttempts) FindStaleAttempts(ctx context.Context, maxAge time.Duration, limit int) ([]*CheckoutAttempt, error) {
	filter := bson.M{
		"status":     bson.M{"$in": bson.A{AttemptPending, AttemptReserving, AttemptReserved}},
		"updated_at": bson.M{"$lt": time.Now().Add(-maxAge)},
	}
	opts := options.Find().SetLimit(int64(limit))

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale attempts: %w", err)
	}
	defer cursor.Close(ctx)

	var attempts []*CheckoutAttempt
	if err := cursor.All(ctx, &attempts); err != nil {
		return nil, fmt.Errorf("failed to decode attempts: %w", err)
	}
	return attempts, nil
}

// CreateIndexes sets up the unique idempotency key index.
func (m *mongoAttempts) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
