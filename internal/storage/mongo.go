package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig holds the MongoDB connection settings
type MongoConfig struct {
	URI            string
	ConnectTimeout time.Duration
}

// Mongo is the MongoDB Backend
type Mongo struct {
	client *mongo.Client
}

// NewMongo connects to MongoDB. mongo.Connect only starts background
// monitoring; use Ping to verify the deployment is reachable.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	return &Mongo{client: client}, nil
}

func (m *Mongo) collection(ref CollectionRef) *mongo.Collection {
	return m.client.Database(ref.Database).Collection(ref.Collection)
}

// Ping implements Backend
func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}

// EnsureUniqueIndex implements Backend. MongoDB treats creating an index
// that already exists with the same keys and options as a no-op.
func (m *Mongo) EnsureUniqueIndex(ctx context.Context, ref CollectionRef, keys []string) error {
	idx := make(bson.D, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, bson.E{Key: k, Value: 1})
	}

	_, err := m.collection(ref).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    idx,
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create unique index on %s: %w", ref, err)
	}
	return nil
}

// BulkUpsert implements Backend with one unordered bulk write, so one bad
// document does not stop the rest of the batch.
func (m *Mongo) BulkUpsert(ctx context.Context, ref CollectionRef, ops []Upsert) (UpsertResult, error) {
	if len(ops) == 0 {
		return UpsertResult{}, nil
	}

	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		if op.Replace {
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(op.Filter).
				SetReplacement(op.Doc).
				SetUpsert(true))
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(op.Filter).
			SetUpdate(bson.M{"$set": op.Doc}).
			SetUpsert(true))
	}

	res, err := m.collection(ref).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))

	var out UpsertResult
	if res != nil {
		out = UpsertResult{
			Matched:  res.MatchedCount,
			Modified: res.ModifiedCount,
			Upserted: res.UpsertedCount,
		}
	}
	if err != nil {
		return out, fmt.Errorf("bulk upsert into %s failed: %w", ref, err)
	}
	return out, nil
}

// Close implements Backend
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
