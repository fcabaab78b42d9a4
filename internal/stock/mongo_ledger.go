package stock

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/catalog"
)

type mongoLedger struct {
	collection *mongo.Collection
}

// NewMongoLedger returns a Ledger over the products collection.
func NewMongoLedger(db *mongo.Database) Ledger {
	return &mongoLedger{collection: db.Collection("products")}
}

func (m *mongoLedger) Reserve(ctx context.Context, productID string, qty int) error {
	filter := bson.M{
		"_id":    productID,
		"status": catalog.StatusActive,
		"stock":  bson.M{"$gte": qty},
	}
	update := bson.M{"$inc": bson.M{"stock": -qty}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// The conditional update matched nothing. Read the product once to
	// report which precondition failed.
	var product catalog.Product
	err = m.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&product)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect product after reserve miss: %w", err)
	}
	if !product.Sellable() {
		return ErrProductUnavailable
	}
	return ErrInsufficientStock
}

func (m *mongoLedger) Release(ctx context.Context, productID string, qty int) error {
	filter := bson.M{"_id": productID}
	update := bson.M{"$inc": bson.M{"stock": qty}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrProductNotFound
	}
	return nil
}
