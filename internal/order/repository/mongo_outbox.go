package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoOutbox struct {
	outbox *mongo.Collection
}

func NewMongoOutbox(db *mongo.Database) OutboxRepository {
	return &mongoOutbox{outbox: db.Collection("outbox")}
}

func (m *mongoOutbox) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := m.outbox.Find(ctx, bson.M{"processed": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*OutboxEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode outbox events: %w", err)
	}
	return events, nil
}

func (m *mongoOutbox) MarkEventAsProcessed(ctx context.Context, id string) error {
	update := bson.M{"$set": bson.M{
		"processed":    true,
		"processed_at": time.Now(),
	}}
	if _, err := m.outbox.UpdateByID(ctx, id, update); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}
