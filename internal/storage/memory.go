package storage

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Memory is an in-process Backend with the same upsert semantics as Mongo.
// It backs dry runs and tests.
type Memory struct {
	mu          sync.Mutex
	collections map[CollectionRef][]bson.M
	indexes     map[CollectionRef][][]string
	batches     int

	// PingErr, when set, is returned by Ping
	PingErr error
}

// NewMemory creates an empty Memory backend
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[CollectionRef][]bson.M),
		indexes:     make(map[CollectionRef][][]string),
	}
}

// Ping implements Backend
func (m *Memory) Ping(context.Context) error {
	return m.PingErr
}

// EnsureUniqueIndex implements Backend
func (m *Memory) EnsureUniqueIndex(_ context.Context, ref CollectionRef, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.indexes[ref] {
		if slices.Equal(existing, keys) {
			return nil
		}
	}
	m.indexes[ref] = append(m.indexes[ref], slices.Clone(keys))
	return nil
}

// BulkUpsert implements Backend
func (m *Memory) BulkUpsert(_ context.Context, ref CollectionRef, ops []Upsert) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(ops) == 0 {
		return UpsertResult{}, nil
	}
	m.batches++

	var res UpsertResult
	docs := m.collections[ref]
	for _, op := range ops {
		i := slices.IndexFunc(docs, func(d bson.M) bool { return matches(d, op.Filter) })
		if i < 0 {
			d := bson.M{}
			for _, e := range op.Filter {
				d[e.Key] = e.Value
			}
			maps.Copy(d, op.Doc)
			docs = append(docs, d)
			res.Upserted++
			continue
		}

		res.Matched++
		before := maps.Clone(docs[i])
		if op.Replace {
			docs[i] = maps.Clone(op.Doc)
		} else {
			maps.Copy(docs[i], op.Doc)
		}
		if !reflect.DeepEqual(before, docs[i]) {
			res.Modified++
		}
	}
	m.collections[ref] = docs
	return res, nil
}

// Close implements Backend
func (m *Memory) Close(context.Context) error {
	return nil
}

// Documents returns a copy of the documents stored in ref
func (m *Memory) Documents(ref CollectionRef) []bson.M {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]bson.M, len(m.collections[ref]))
	for i, d := range m.collections[ref] {
		out[i] = maps.Clone(d)
	}
	return out
}

// Indexes returns the unique key sets created on ref
func (m *Memory) Indexes(ref CollectionRef) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.indexes[ref])
}

// Batches returns the number of non-empty bulk writes received
func (m *Memory) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

func matches(d bson.M, filter bson.D) bool {
	for _, e := range filter {
		v, ok := d[e.Key]
		if !ok || !reflect.DeepEqual(v, e.Value) {
			return false
		}
	}
	return true
}
