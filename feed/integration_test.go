//go:build integration

package feed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// getMongoClient creates a MongoDB client for integration tests.
// Set MONGO_URI environment variable to override the default connection string.
func getMongoClient(t *testing.T) *mongo.Client {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		t.Skipf("MongoDB not available: %v", err)
	}

	t.Cleanup(func() {
		client.Disconnect(context.Background())
	})

	return client
}

func TestMongoStoreIntegration(t *testing.T) {
	client := getMongoClient(t)
	ctx := context.Background()

	// Use a unique database for this test
	dbName := "feed_test_" + time.Now().Format("20060102150405")
	db := client.Database(dbName)

	t.Cleanup(func() {
		db.Drop(context.Background())
	})

	store := NewMongoStore(db, WithCollection("feed_entries"))
	if _, err := store.Collection().Indexes().CreateMany(ctx, store.Indexes()); err != nil {
		t.Fatalf("Create indexes failed: %v", err)
	}

	t.Run("Create and Get", func(t *testing.T) {
		id, err := store.Create(ctx, Entry{
			ActorID:   "actor-1",
			Kind:      "mission_completed",
			MissionID: "m-1",
			RefID:     "exec-1",
			Title:     "Clear the cellar",
			XP:        100,
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.ActorID != "actor-1" || got.XP != 100 || got.Kind != "mission_completed" {
			t.Errorf("unexpected entry: %+v", got)
		}
		if got.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		id, err := store.Create(ctx, Entry{ActorID: "actor-1", Kind: "mission_completed"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if err := store.Delete(ctx, id); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
