// Package storage persists market data idempotently. Every category maps
// onto a collection and a natural key; writes are upserts by that key so
// repeated runs converge instead of duplicating documents.
package storage

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

//go:generate mockgen -package=storage -destination=mock_backend_test.go -source=backend.go Backend

// CollectionRef addresses a collection inside a database namespace
type CollectionRef struct {
	Database   string
	Collection string
}

func (r CollectionRef) String() string {
	return r.Database + "." + r.Collection
}

// Upsert is one write of a batch: match Filter, then set every field of Doc
// (or replace the whole document when Replace is true), inserting when
// nothing matches.
type Upsert struct {
	Filter  bson.D
	Doc     bson.M
	Replace bool
}

// UpsertResult summarises a batch
type UpsertResult struct {
	Matched  int64
	Modified int64
	Upserted int64
}

// Backend is the document store the Store writes through
type Backend interface {
	// Ping is the liveness probe run before any fetch starts
	Ping(ctx context.Context) error
	// EnsureUniqueIndex creates a unique index over keys; repeating it is a no-op
	EnsureUniqueIndex(ctx context.Context, ref CollectionRef, keys []string) error
	// BulkUpsert submits ops as one batched write
	BulkUpsert(ctx context.Context, ref CollectionRef, ops []Upsert) (UpsertResult, error)
	// Close releases the connection pool
	Close(ctx context.Context) error
}
