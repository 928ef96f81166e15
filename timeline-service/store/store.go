// Package store keeps the request timeline projected from lifecycle events.
package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/request-service/domain"
)

// MongoStore writes timeline entries to the collection request-service reads.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(domain.TimelineCollectionName)}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "requestDocId", Value: 1}, {Key: "occurredAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create timeline index: %w", err)
	}
	return nil
}

// SaveEntry upserts by event id, so a redelivered event is written once.
func (s *MongoStore) SaveEntry(ctx context.Context, entry *domain.TimelineEntry) error {
	ctx, span := otel.Tracer("timeline-service").Start(ctx, "MongoSaveEntry")
	defer span.End()
	span.SetAttributes(
		attribute.String("eventID", entry.EventID),
		attribute.String("requestID", entry.RequestID),
	)

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": entry.EventID}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save timeline entry")
		return fmt.Errorf("failed to save timeline entry %s: %w", entry.EventID, err)
	}
	return nil
}

// FromEvent projects a lifecycle event into a timeline entry.
func FromEvent(e *events.RequestEvent) *domain.TimelineEntry {
	return &domain.TimelineEntry{
		EventID:         e.EventID,
		RequestDocID:    e.RequestDocID,
		RequestID:       e.RequestID,
		EventType:       e.EventType,
		Status:          e.Status,
		PreviousStatus:  e.PreviousStatus,
		AssignedStaffID: e.AssignedStaffID,
		Note:            e.Note,
		ActorID:         e.ActorID,
		ActorRole:       e.ActorRole,
		OccurredAt:      e.OccurredAt,
	}
}
