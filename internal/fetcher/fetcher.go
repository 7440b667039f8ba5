package fetcher

import "context"

// Task is a named unit of work the coordinator runs concurrently.
// Each task knows how to retrieve one piece of market data and the entity
// it belongs to.
type Task interface {
	// Fetch retrieves the data. The concrete payload type depends on the
	// endpoint that produced it (see package eodhd).
	Fetch(ctx context.Context) (any, error)

	// Key returns the entity the task is about: a symbol, an index code,
	// a country code, or "all" for calendar-wide requests.
	Key() string
}

// TaskFunc adapts a plain function into a Task
type TaskFunc struct {
	Entity string
	Fn     func(ctx context.Context) (any, error)
}

// Fetch implements Task
func (t TaskFunc) Fetch(ctx context.Context) (any, error) {
	return t.Fn(ctx)
}

// Key implements Task
func (t TaskFunc) Key() string {
	return t.Entity
}
