package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"marketcollector/internal/fetcher"
)

// Group is an ordered list of independent tasks sharing a category label
type Group struct {
	Label string
	Tasks []fetcher.Task
}

// Results maps a group label to the outcomes of its tasks, in task order
type Results map[string][]fetcher.Outcome

// Coordinator runs task groups concurrently and collects per-task outcomes
type Coordinator struct {
	hooks []Hook
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithHooks adds instrumentation hooks applied to every task
func WithHooks(hooks ...Hook) Option {
	return func(c *Coordinator) {
		c.hooks = append(c.hooks, hooks...)
	}
}

// New creates a new Coordinator
func New(opts ...Option) *Coordinator {
	c := &Coordinator{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every task of every group concurrently and waits for all of
// them to settle. A failing or panicking task is recorded in its Outcome and
// never cancels its siblings. The outcome order within a group matches the
// task order regardless of completion order. Groups sharing a label are
// merged in the order given.
func (c *Coordinator) Run(ctx context.Context, groups []Group) Results {
	sizes := make(map[string]int, len(groups))
	for _, g := range groups {
		sizes[g.Label] += len(g.Tasks)
	}

	results := make(Results, len(sizes))
	for label, n := range sizes {
		results[label] = make([]fetcher.Outcome, n)
	}

	// Each goroutine owns exactly one slot, so no locking is needed.
	var wg conc.WaitGroup
	next := make(map[string]int, len(sizes))
	for _, g := range groups {
		outcomes := results[g.Label]
		offset := next[g.Label]
		next[g.Label] += len(g.Tasks)

		for i, task := range g.Tasks {
			label := g.Label
			wg.Go(func() {
				outcomes[offset+i] = c.runTask(ctx, label, task)
			})
		}
	}
	wg.Wait()

	return results
}

func (c *Coordinator) runTask(ctx context.Context, label string, task fetcher.Task) fetcher.Outcome {
	key := task.Key()
	for _, h := range c.hooks {
		h.Before(ctx, label, key)
	}

	var (
		payload any
		err     error
	)
	started := time.Now()
	if recovered := panics.Try(func() {
		payload, err = task.Fetch(ctx)
	}); recovered != nil {
		payload, err = nil, fmt.Errorf("task %s/%s panicked: %w", label, key, recovered.AsError())
	}

	outcome := fetcher.Outcome{
		Key:     key,
		Payload: payload,
		Err:     err,
		Elapsed: time.Since(started),
	}

	for _, h := range c.hooks {
		h.After(ctx, label, outcome)
	}
	return outcome
}
