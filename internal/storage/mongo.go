package storage

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

	"github.com/example/roadside-dispatch/internal/models"
)

const tracerName = "roadside-dispatch/storage"

// MongoStore keeps requests in a single collection. Guarded writes are
// UpdateOne calls whose filter carries the guard, so the server applies the
// check and the write as one document operation.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection("emergency_requests")}
}

// ConnectMongo dials uri and pings the primary.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the indexes the list queries rely on.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, span := startSpan(ctx, "MongoEnsureIndexes")
	defer span.End()
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "assignedProvider", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		fail(span, err, "Failed to create indexes")
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) Create(ctx context.Context, r *models.EmergencyRequest) error {
	ctx, span := startSpan(ctx, "MongoCreateRequest")
	defer span.End()
	if _, err := m.coll.InsertOne(ctx, r.Clone()); err != nil {
		fail(span, err, "Failed to insert request")
		return fmt.Errorf("create emergency request: %w", err)
	}
	span.SetAttributes(
		attribute.String("requestID", r.ID),
		attribute.String("requesterID", r.RequesterID),
	)
	return nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	ctx, span := startSpan(ctx, "MongoGetRequest")
	defer span.End()
	var r models.EmergencyRequest
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		fail(span, err, "Failed to find request")
		return nil, fmt.Errorf("get emergency request: %w", err)
	}
	span.SetAttributes(attribute.String("requestID", id), attribute.String("status", string(r.Status)))
	return normalize(&r), nil
}

func (m *MongoStore) ListPending(ctx context.Context, excludeProvider string) ([]*models.EmergencyRequest, error) {
	filter := bson.M{"status": models.StatusPending, "rejectedBy": bson.M{"$ne": excludeProvider}}
	sort := bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}
	return m.find(ctx, "MongoListPending", filter, sort)
}

func (m *MongoStore) ListByRequester(ctx context.Context, requesterID string, statuses ...models.Status) ([]*models.EmergencyRequest, error) {
	filter := bson.M{"requesterId": requesterID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	sort := bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	return m.find(ctx, "MongoListByRequester", filter, sort)
}

func (m *MongoStore) ListByProvider(ctx context.Context, providerID string) ([]*models.EmergencyRequest, error) {
	sort := bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	return m.find(ctx, "MongoListByProvider", bson.M{"assignedProvider": providerID}, sort)
}

func (m *MongoStore) Claim(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": models.StatusPending, "rejectedBy": bson.M{"$ne": providerID}}
	update := bson.M{"$set": bson.M{
		"status":           models.StatusAccepted,
		"assignedProvider": providerID,
		"updatedAt":        at,
	}}
	return m.guardedUpdate(ctx, "MongoClaimRequest", id, providerID, filter, update)
}

func (m *MongoStore) AddRejection(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": models.StatusPending, "rejectedBy": bson.M{"$ne": providerID}}
	update := bson.M{
		"$push": bson.M{"rejectedBy": providerID},
		"$set":  bson.M{"updatedAt": at},
	}
	return m.guardedUpdate(ctx, "MongoRejectRequest", id, providerID, filter, update)
}

func (m *MongoStore) Resolve(ctx context.Context, id, providerID string, to models.Status, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": models.StatusAccepted, "assignedProvider": providerID}
	var update bson.M
	switch to {
	case models.StatusCompleted:
		update = bson.M{"$set": bson.M{"status": models.StatusCompleted, "updatedAt": at}}
	case models.StatusCancelled:
		update = bson.M{
			"$set":  bson.M{"status": models.StatusCancelled, "assignedProvider": nil, "updatedAt": at},
			"$push": bson.M{"rejectedBy": providerID},
		}
	default:
		return false, ErrBadOutcome
	}
	return m.guardedUpdate(ctx, "MongoResolveRequest", id, providerID, filter, update)
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.coll.Database().Client().Ping(ctx, nil)
}

func (m *MongoStore) guardedUpdate(ctx context.Context, spanName, id, providerID string, filter, update bson.M) (bool, error) {
	ctx, span := startSpan(ctx, spanName)
	defer span.End()
	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		fail(span, err, "Failed to update request")
		return false, fmt.Errorf("update emergency request %s: %w", id, err)
	}
	applied := res.MatchedCount == 1
	span.SetAttributes(
		attribute.String("requestID", id),
		attribute.String("providerID", providerID),
		attribute.Bool("applied", applied),
	)
	return applied, nil
}

func (m *MongoStore) find(ctx context.Context, spanName string, filter bson.M, sort bson.D) ([]*models.EmergencyRequest, error) {
	ctx, span := startSpan(ctx, spanName)
	defer span.End()
	cursor, err := m.coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		fail(span, err, "Failed to find requests")
		return nil, fmt.Errorf("find emergency requests: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.EmergencyRequest
	for cursor.Next(ctx) {
		var r models.EmergencyRequest
		if err := cursor.Decode(&r); err != nil {
			fail(span, err, "Failed to decode request")
			return nil, fmt.Errorf("decode emergency request: %w", err)
		}
		out = append(out, normalize(&r))
	}
	if err := cursor.Err(); err != nil {
		fail(span, err, "Cursor error")
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	span.SetAttributes(attribute.Int("requestCount", len(out)))
	return out, nil
}

func normalize(r *models.EmergencyRequest) *models.EmergencyRequest {
	if r.RejectedBy == nil {
		r.RejectedBy = []string{}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
