package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoReader struct {
	collection *mongo.Collection
}

func NewMongoReader(db *mongo.Database) ProductReader {
	return &mongoReader{collection: db.Collection("products")}
}

func (m *mongoReader) GetProduct(ctx context.Context, id string) (*Product, error) {
	var product Product

	filter := bson.M{"_id": id}
	err := m.collection.FindOne(ctx, filter).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &product, nil
}
