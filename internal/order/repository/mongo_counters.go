package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoCounters struct {
	collection *mongo.Collection
}

func NewMongoCounters(db *mongo.Database) CounterStore {
	return &mongoCounters{collection: db.Collection("counters")}
}

// Next atomically increments the counter for key and returns the new
// value. The upsert means the first caller on a fresh key gets 1; there
// is no count-then-insert window for two callers to race through.
func (m *mongoCounters) Next(ctx context.Context, key string) (int64, error) {
	filter := bson.M{"_id": key}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
	}
	return doc.Seq, nil
}
