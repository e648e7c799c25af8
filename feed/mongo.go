package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3/health"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

/*
MongoDB Schema:

Collection: feed_entries

Document structure:
{
    "_id": string (entry ID),
    "actor_id": string,
    "kind": string,
    "mission_id": string,
    "ref_id": string,
    "title": string,
    "xp": long,
    "created_at": ISODate
}

Indexes:
db.feed_entries.createIndex({ "actor_id": 1, "created_at": -1 })
db.feed_entries.createIndex({ "ref_id": 1 })
*/

// mongoEntry is the feed entry document in MongoDB.
type mongoEntry struct {
	ID        string    `bson:"_id"`
	ActorID   string    `bson:"actor_id"`
	Kind      string    `bson:"kind"`
	MissionID string    `bson:"mission_id,omitempty"`
	RefID     string    `bson:"ref_id,omitempty"`
	Title     string    `bson:"title,omitempty"`
	XP        int64     `bson:"xp"`
	CreatedAt time.Time `bson:"created_at"`
}

func (m *mongoEntry) toEntry() *Entry {
	return &Entry{
		ID:        m.ID,
		ActorID:   m.ActorID,
		Kind:      m.Kind,
		MissionID: m.MissionID,
		RefID:     m.RefID,
		Title:     m.Title,
		XP:        m.XP,
		CreatedAt: m.CreatedAt,
	}
}

func fromEntry(e Entry) *mongoEntry {
	return &mongoEntry{
		ID:        e.ID,
		ActorID:   e.ActorID,
		Kind:      e.Kind,
		MissionID: e.MissionID,
		RefID:     e.RefID,
		Title:     e.Title,
		XP:        e.XP,
		CreatedAt: e.CreatedAt,
	}
}

// MongoStore is a MongoDB-backed feed store.
type MongoStore struct {
	collection *mongo.Collection
}

// MongoStoreOption configures a MongoStore.
type MongoStoreOption func(*mongoStoreOptions)

type mongoStoreOptions struct {
	collection string
}

// WithCollection sets a custom collection name for the feed store.
func WithCollection(name string) MongoStoreOption {
	return func(o *mongoStoreOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// NewMongoStore creates a MongoDB feed store.
//
// The default collection name is "feed_entries".
func NewMongoStore(db *mongo.Database, opts ...MongoStoreOption) *MongoStore {
	o := &mongoStoreOptions{
		collection: "feed_entries",
	}
	for _, opt := range opts {
		opt(o)
	}

	return &MongoStore{
		collection: db.Collection(o.collection),
	}
}

// Collection returns the underlying MongoDB collection.
func (s *MongoStore) Collection() *mongo.Collection {
	return s.collection
}

// Indexes returns the recommended indexes for the feed collection.
//
// Example:
//
//	_, err := store.Collection().Indexes().CreateMany(ctx, store.Indexes())
func (s *MongoStore) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "ref_id", Value: 1}}},
	}
}

// Create stores the entry and returns its ID.
func (s *MongoStore) Create(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if _, err := s.collection.InsertOne(ctx, fromEntry(e)); err != nil {
		return "", fmt.Errorf("insert feed entry: %w", err)
	}
	return e.ID, nil
}

// Delete removes an entry by ID.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete feed entry: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns an entry by ID.
func (s *MongoStore) Get(ctx context.Context, id string) (*Entry, error) {
	var doc mongoEntry
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find feed entry: %w", err)
	}
	return doc.toEntry(), nil
}

// Health performs a connectivity check against MongoDB.
func (s *MongoStore) Health(ctx context.Context) *health.Result {
	start := time.Now()

	if err := s.collection.Database().Client().Ping(ctx, nil); err != nil {
		return &health.Result{
			Status:    health.StatusUnhealthy,
			Message:   fmt.Sprintf("mongodb connectivity failed: %v", err),
			Latency:   time.Since(start),
			CheckedAt: start,
		}
	}

	return &health.Result{
		Status:    health.StatusHealthy,
		Latency:   time.Since(start),
		CheckedAt: start,
		Details: map[string]any{
			"collection": s.collection.Name(),
		},
	}
}

// Compile-time checks
var (
	_ Store          = (*MongoStore)(nil)
	_ health.Checker = (*MongoStore)(nil)
)
