package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Collection names shared with timeline-service.
const (
	RequestCollectionName  = "service_requests"
	ProviderCollectionName = "service_providers"
	StaffCollectionName    = "staff"
	ProfileCollectionName  = "user_profiles"
	DraftCollectionName    = "drafts"
	OutboxCollectionName   = "outbox"
	TimelineCollectionName = "request_timeline"
)

var tracer = otel.Tracer("request-service")

// MongoRepository implements Repository
type MongoRepository struct {
	RequestCollection  *mongo.Collection
	ProviderCollection *mongo.Collection
	StaffCollection    *mongo.Collection
	ProfileCollection  *mongo.Collection
	DraftCollection    *mongo.Collection
	OutboxCollection   *mongo.Collection
	TimelineCollection *mongo.Collection
}

// NewMongoRepository creates a new MongoRepository
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		RequestCollection:  db.Collection(RequestCollectionName),
		ProviderCollection: db.Collection(ProviderCollectionName),
		StaffCollection:    db.Collection(StaffCollectionName),
		ProfileCollection:  db.Collection(ProfileCollectionName),
		DraftCollection:    db.Collection(DraftCollectionName),
		OutboxCollection:   db.Collection(OutboxCollectionName),
		TimelineCollection: db.Collection(TimelineCollectionName),
	}
}

// EnsureIndexes creates the indexes queries and invariants rely on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "MongoEnsureIndexes")
	defer span.End()

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{r.StaffCollection, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{r.RequestCollection, mongo.IndexModel{Keys: bson.D{{Key: "requestId", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{r.RequestCollection, mongo.IndexModel{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "createdAt", Value: -1}}}},
		{r.RequestCollection, mongo.IndexModel{Keys: bson.D{{Key: "assignedStaffId", Value: 1}, {Key: "createdAt", Value: -1}}}},
		{r.OutboxCollection, mongo.IndexModel{Keys: bson.D{{Key: "processed", Value: 1}, {Key: "created_at", Value: 1}}}},
		{r.TimelineCollection, mongo.IndexModel{Keys: bson.D{{Key: "requestDocId", Value: 1}, {Key: "occurredAt", Value: 1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return spanError(span, "Failed to create index", fmt.Errorf("failed to create index on %s: %w", idx.coll.Name(), err))
		}
	}
	return nil
}

// CreateRequest inserts a new service request
func (r *MongoRepository) CreateRequest(ctx context.Context, req *ServiceRequest) error {
	ctx, span := tracer.Start(ctx, "MongoCreateRequest")
	defer span.End()

	if _, err := r.RequestCollection.InsertOne(ctx, req); err != nil {
		return spanError(span, "Failed to insert request", mapWriteError(err))
	}
	span.SetAttributes(
		attribute.String("requestDocID", req.ID),
		attribute.String("requestID", req.RequestID),
		attribute.String("status", string(req.Status)),
	)
	return nil
}

// GetRequest retrieves a request by document id or request code
func (r *MongoRepository) GetRequest(ctx context.Context, id string) (*ServiceRequest, error) {
	ctx, span := tracer.Start(ctx, "MongoGetRequest")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", id))

	filter := bson.M{"$or": bson.A{bson.M{"_id": id}, bson.M{"requestId": id}}}
	var req ServiceRequest
	if err := r.RequestCollection.FindOne(ctx, filter).Decode(&req); err != nil {
		return nil, spanError(span, "Failed to find request", mapReadError(err, "request", id))
	}
	return &req, nil
}

// ListRequests retrieves requests matching filter, newest first
func (r *MongoRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]*ServiceRequest, error) {
	ctx, span := tracer.Start(ctx, "MongoListRequests")
	defer span.End()

	q := bson.M{}
	if filter.RequesterID != "" {
		q["requesterId"] = filter.RequesterID
	}
	if filter.AssignedStaffID != "" {
		q["assignedStaffId"] = filter.AssignedStaffID
	}
	if len(filter.Statuses) > 0 {
		q["status"] = bson.M{"$in": filter.Statuses}
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	requests, err := findAll[ServiceRequest](ctx, r.RequestCollection, q, opts)
	if err != nil {
		return nil, spanError(span, "Failed to list requests", err)
	}
	span.SetAttributes(attribute.Int("requestCount", len(requests)))
	return requests, nil
}

// UpdateRequest replaces a stored request, guarded by its version
func (r *MongoRepository) UpdateRequest(ctx context.Context, req *ServiceRequest) error {
	ctx, span := tracer.Start(ctx, "MongoUpdateRequest")
	defer span.End()

	next := *req
	next.Version = req.Version + 1
	res, err := r.RequestCollection.ReplaceOne(ctx, bson.M{"_id": req.ID, "version": req.Version}, &next)
	if err != nil {
		return spanError(span, "Failed to update request", err)
	}
	if res.MatchedCount == 0 {
		return spanError(span, "Request changed concurrently", fmt.Errorf("request %s version %d: %w", req.ID, req.Version, ErrConflict))
	}
	req.Version = next.Version
	span.SetAttributes(
		attribute.String("requestDocID", req.ID),
		attribute.String("status", string(req.Status)),
		attribute.Int64("version", req.Version),
	)
	return nil
}

// WatchRequests sets up a MongoDB change stream for request inserts and updates
func (r *MongoRepository) WatchRequests(ctx context.Context, docID string) (ChangeStream, error) {
	ctx, span := tracer.Start(ctx, "MongoWatchRequests")
	defer span.End()

	match := bson.D{{Key: "operationType", Value: bson.M{"$in": bson.A{"insert", "update", "replace"}}}}
	if docID != "" {
		match = append(match, bson.E{Key: "documentKey._id", Value: docID})
		span.SetAttributes(attribute.String("requestDocID", docID))
	}
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: match}}}

	changeStream, err := r.RequestCollection.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, spanError(span, "Failed to open change stream", fmt.Errorf("failed to open change stream: %w", err))
	}
	return changeStream, nil
}

// CreateProvider inserts a new provider
func (r *MongoRepository) CreateProvider(ctx context.Context, p *ServiceProvider) error {
	ctx, span := tracer.Start(ctx, "MongoCreateProvider")
	defer span.End()

	if _, err := r.ProviderCollection.InsertOne(ctx, p); err != nil {
		return spanError(span, "Failed to insert provider", mapWriteError(err))
	}
	span.SetAttributes(attribute.String("providerID", p.ID))
	return nil
}

func (r *MongoRepository) GetProvider(ctx context.Context, id string) (*ServiceProvider, error) {
	ctx, span := tracer.Start(ctx, "MongoGetProvider")
	defer span.End()
	span.SetAttributes(attribute.String("providerID", id))

	var p ServiceProvider
	if err := r.ProviderCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, spanError(span, "Failed to find provider", mapReadError(err, "provider", id))
	}
	return &p, nil
}

func (r *MongoRepository) ListProviders(ctx context.Context) ([]*ServiceProvider, error) {
	ctx, span := tracer.Start(ctx, "MongoListProviders")
	defer span.End()

	providers, err := findAll[ServiceProvider](ctx, r.ProviderCollection, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, spanError(span, "Failed to list providers", err)
	}
	span.SetAttributes(attribute.Int("providerCount", len(providers)))
	return providers, nil
}

func (r *MongoRepository) UpdateProvider(ctx context.Context, p *ServiceProvider) error {
	ctx, span := tracer.Start(ctx, "MongoUpdateProvider")
	defer span.End()
	return r.replace(ctx, span, r.ProviderCollection, "provider", p.ID, p)
}

func (r *MongoRepository) DeleteProvider(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "MongoDeleteProvider")
	defer span.End()
	return r.delete(ctx, span, r.ProviderCollection, "provider", id)
}

// CreateStaff inserts a staff member; a taken email yields ErrDuplicate
func (r *MongoRepository) CreateStaff(ctx context.Context, m *StaffMember) error {
	ctx, span := tracer.Start(ctx, "MongoCreateStaff")
	defer span.End()

	if _, err := r.StaffCollection.InsertOne(ctx, m); err != nil {
		return spanError(span, "Failed to insert staff member", mapWriteError(err))
	}
	span.SetAttributes(attribute.String("staffID", m.ID), attribute.String("role", m.Role))
	return nil
}

func (r *MongoRepository) GetStaff(ctx context.Context, id string) (*StaffMember, error) {
	ctx, span := tracer.Start(ctx, "MongoGetStaff")
	defer span.End()

	var m StaffMember
	if err := r.StaffCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, spanError(span, "Failed to find staff member", mapReadError(err, "staff member", id))
	}
	return &m, nil
}

// GetStaffByEmail expects email already lower-cased
func (r *MongoRepository) GetStaffByEmail(ctx context.Context, email string) (*StaffMember, error) {
	ctx, span := tracer.Start(ctx, "MongoGetStaffByEmail")
	defer span.End()

	var m StaffMember
	if err := r.StaffCollection.FindOne(ctx, bson.M{"email": email}).Decode(&m); err != nil {
		return nil, spanError(span, "Failed to find staff member", mapReadError(err, "staff member", email))
	}
	return &m, nil
}

func (r *MongoRepository) ListStaff(ctx context.Context) ([]*StaffMember, error) {
	ctx, span := tracer.Start(ctx, "MongoListStaff")
	defer span.End()

	staff, err := findAll[StaffMember](ctx, r.StaffCollection, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, spanError(span, "Failed to list staff", err)
	}
	return staff, nil
}

func (r *MongoRepository) UpdateStaff(ctx context.Context, m *StaffMember) error {
	ctx, span := tracer.Start(ctx, "MongoUpdateStaff")
	defer span.End()
	return r.replace(ctx, span, r.StaffCollection, "staff member", m.ID, m)
}

func (r *MongoRepository) DeleteStaff(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "MongoDeleteStaff")
	defer span.End()
	return r.delete(ctx, span, r.StaffCollection, "staff member", id)
}

func (r *MongoRepository) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	ctx, span := tracer.Start(ctx, "MongoGetProfile")
	defer span.End()

	var p UserProfile
	if err := r.ProfileCollection.FindOne(ctx, bson.M{"_id": userID}).Decode(&p); err != nil {
		return nil, spanError(span, "Failed to find profile", mapReadError(err, "profile", userID))
	}
	return &p, nil
}

func (r *MongoRepository) SaveProfile(ctx context.Context, p *UserProfile) error {
	ctx, span := tracer.Start(ctx, "MongoSaveProfile")
	defer span.End()

	_, err := r.ProfileCollection.ReplaceOne(ctx, bson.M{"_id": p.UserID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return spanError(span, "Failed to save profile", err)
	}
	return nil
}

func (r *MongoRepository) GetDraft(ctx context.Context, userID string) (*Draft, error) {
	ctx, span := tracer.Start(ctx, "MongoGetDraft")
	defer span.End()

	var d Draft
	if err := r.DraftCollection.FindOne(ctx, bson.M{"_id": userID}).Decode(&d); err != nil {
		return nil, spanError(span, "Failed to find draft", mapReadError(err, "draft", userID))
	}
	return &d, nil
}

func (r *MongoRepository) SaveDraft(ctx context.Context, d *Draft) error {
	ctx, span := tracer.Start(ctx, "MongoSaveDraft")
	defer span.End()

	_, err := r.DraftCollection.ReplaceOne(ctx, bson.M{"_id": d.UserID}, d, options.Replace().SetUpsert(true))
	if err != nil {
		return spanError(span, "Failed to save draft", err)
	}
	return nil
}

func (r *MongoRepository) DeleteDraft(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "MongoDeleteDraft")
	defer span.End()

	if _, err := r.DraftCollection.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return spanError(span, "Failed to delete draft", err)
	}
	return nil
}

// SaveOutboxEvent saves an event to the outbox collection
func (r *MongoRepository) SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	ctx, span := tracer.Start(ctx, "MongoSaveOutboxEvent")
	defer span.End()

	if _, err := r.OutboxCollection.InsertOne(ctx, event); err != nil {
		return spanError(span, "Failed to save outbox event", err)
	}
	span.SetAttributes(
		attribute.String("eventID", event.ID),
		attribute.String("eventType", event.EventType),
	)
	return nil
}

// GetUnprocessedOutboxEvents retrieves unprocessed outbox events, oldest first
func (r *MongoRepository) GetUnprocessedOutboxEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	ctx, span := tracer.Start(ctx, "MongoGetUnprocessedOutboxEvents")
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit))
	events, err := findAll[OutboxEvent](ctx, r.OutboxCollection, bson.M{"processed": false}, opts)
	if err != nil {
		return nil, spanError(span, "Failed to find unprocessed outbox events", err)
	}
	span.SetAttributes(attribute.Int("eventCount", len(events)))
	return events, nil
}

// MarkOutboxEventProcessed marks an outbox event as processed
func (r *MongoRepository) MarkOutboxEventProcessed(ctx context.Context, eventID string) error {
	ctx, span := tracer.Start(ctx, "MongoMarkOutboxEventProcessed")
	defer span.End()

	now := time.Now().UTC()
	_, err := r.OutboxCollection.UpdateOne(ctx, bson.M{"_id": eventID}, bson.M{
		"$set": bson.M{
			"processed":    true,
			"processed_at": now,
		},
	})
	if err != nil {
		return spanError(span, "Failed to mark outbox event as processed", err)
	}
	span.SetAttributes(attribute.String("eventID", eventID))
	return nil
}

func (r *MongoRepository) ListTimeline(ctx context.Context, requestDocID string) ([]*TimelineEntry, error) {
	ctx, span := tracer.Start(ctx, "MongoListTimeline")
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "occurredAt", Value: 1}})
	entries, err := findAll[TimelineEntry](ctx, r.TimelineCollection, bson.M{"requestDocId": requestDocID}, opts)
	if err != nil {
		return nil, spanError(span, "Failed to list timeline", err)
	}
	span.SetAttributes(attribute.Int("entryCount", len(entries)))
	return entries, nil
}

func (r *MongoRepository) replace(ctx context.Context, span trace.Span, coll *mongo.Collection, kind, id string, doc any) error {
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return spanError(span, "Failed to update "+kind, mapWriteError(err))
	}
	if res.MatchedCount == 0 {
		return spanError(span, kind+" not found", fmt.Errorf("%s %s: %w", kind, id, ErrNotFound))
	}
	return nil
}

func (r *MongoRepository) delete(ctx context.Context, span trace.Span, coll *mongo.Collection, kind, id string) error {
	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return spanError(span, "Failed to delete "+kind, err)
	}
	if res.DeletedCount == 0 {
		return spanError(span, kind+" not found", fmt.Errorf("%s %s: %w", kind, id, ErrNotFound))
	}
	return nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]*T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	out := []*T{}
	for cursor.Next(ctx) {
		var doc T
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", coll.Name(), err)
		}
		out = append(out, &doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return out, nil
}

func mapReadError(err error, kind, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to find %s: %w", kind, err)
}

func mapWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}

func spanError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}
