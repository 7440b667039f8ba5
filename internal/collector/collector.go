// Package collector runs one collection pass: it fans out every enabled
// fetch, waits for all of them, persists what succeeded and returns a
// failure report.
package collector

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"marketcollector/internal/coordinator"
	"marketcollector/internal/eodhd"
	"marketcollector/internal/fetcher"
	"marketcollector/internal/storage"
)

// State is the phase a run is in
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateCollecting State = "collecting"
	StatePersisting State = "persisting"
	StateReporting  State = "reporting"
	StateCompleted  State = "completed"
)

// LabelExchange reports a failed symbol discovery
const LabelExchange = "exchange"

// aggregateLabels produce one outcome for the whole category. Macro runs one
// task per country and reports per country code.
var aggregateLabels = []string{
	storage.CategoryEarnings,
	storage.CategoryTrends,
	storage.CategoryIPOs,
	storage.CategorySplits,
}

// AllCategories lists every category in collection order
var AllCategories = []string{
	storage.CategoryHistorical,
	storage.CategoryFundamentals,
	storage.CategoryNews,
	storage.CategoryEarnings,
	storage.CategoryTrends,
	storage.CategoryIndices,
	storage.CategoryIPOs,
	storage.CategorySplits,
	storage.CategoryMacro,
}

// Plan describes what one run collects
type Plan struct {
	Symbols []string
	// Exchange, when set, adds every symbol listed on it
	Exchange string
	// MaxSymbols caps the symbols taken from Exchange; zero means no cap
	MaxSymbols int

	Indices         []string
	Countries       []string
	MacroIndicators []string

	// Categories restricts the run; empty means every category
	Categories []string

	Range eodhd.Range
	News  eodhd.NewsQuery
}

func (p Plan) enabled(category string) bool {
	return len(p.Categories) == 0 || slices.Contains(p.Categories, category)
}

// Collector wires endpoint operations, the coordinator and the store
type Collector struct {
	api    *eodhd.API
	store  *storage.Store
	coord  *coordinator.Coordinator
	logger logrus.FieldLogger

	mu    sync.Mutex
	state State
}

// New creates a Collector
func New(api *eodhd.API, store *storage.Store, coord *coordinator.Coordinator, logger logrus.FieldLogger) *Collector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if coord == nil {
		coord = coordinator.New()
	}
	return &Collector{
		api:    api,
		store:  store,
		coord:  coord,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the phase of the current or last run
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run executes one collection pass. The only error returned is a failed
// store probe, in which case nothing is fetched. Every fetch or persistence
// failure is recorded in the report instead.
func (c *Collector) Run(ctx context.Context, plan Plan) (coordinator.Report, error) {
	log := c.logger.WithField("run_id", uuid.NewString())
	started := time.Now()

	if err := c.store.Ping(ctx); err != nil {
		log.WithError(err).Error("store is unreachable, aborting run")
		return nil, fmt.Errorf("store liveness probe: %w", err)
	}

	report := coordinator.Report{}

	c.transition(log, StateFetching)
	symbols := c.resolveSymbols(ctx, log, plan, report)
	groups := c.groups(plan, symbols)

	results := c.coord.Run(ctx, groups)

	c.transition(log, StateCollecting)
	for label, entities := range coordinator.Failures(results, aggregateLabels...) {
		for key, err := range entities {
			report.Add(label, key, err)
		}
	}

	c.transition(log, StatePersisting)
	c.persistAll(ctx, log, groups, results, report)

	c.transition(log, StateReporting)
	entry := log.WithFields(logrus.Fields{
		"groups":   len(groups),
		"failures": report.Count(),
		"elapsed":  time.Since(started),
	})
	if report.Empty() {
		entry.Info("run succeeded")
	} else {
		entry.Warn("run finished with failures")
	}

	c.transition(log, StateCompleted)
	return report, nil
}

func (c *Collector) transition(log logrus.FieldLogger, next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	log.WithFields(logrus.Fields{"from": prev, "to": next}).Debug("run state changed")
}

// resolveSymbols merges plan symbols with the exchange listing. A failed
// listing is reported and the run continues with the explicit symbols.
func (c *Collector) resolveSymbols(ctx context.Context, log logrus.FieldLogger, plan Plan, report coordinator.Report) []string {
	symbols := slices.Clone(plan.Symbols)
	if plan.Exchange == "" {
		return symbols
	}

	listed, err := c.api.ExchangeSymbols(ctx, plan.Exchange)
	if err != nil {
		log.WithError(err).WithField("exchange", plan.Exchange).Warn("symbol discovery failed")
		report.Add(LabelExchange, plan.Exchange, err)
		return symbols
	}
	if plan.MaxSymbols > 0 && len(listed) > plan.MaxSymbols {
		listed = listed[:plan.MaxSymbols]
	}

	for _, s := range listed {
		if !slices.Contains(symbols, s) {
			symbols = append(symbols, s)
		}
	}
	log.WithFields(logrus.Fields{"exchange": plan.Exchange, "symbols": len(symbols)}).Info("symbols resolved")
	return symbols
}

// groups builds one task group per enabled category that has input
func (c *Collector) groups(plan Plan, symbols []string) []coordinator.Group {
	var groups []coordinator.Group
	add := func(label string, tasks ...fetcher.Task) {
		if plan.enabled(label) && len(tasks) > 0 {
			groups = append(groups, coordinator.Group{Label: label, Tasks: tasks})
		}
	}

	perSymbol := func(build func(string) fetcher.Task) []fetcher.Task {
		tasks := make([]fetcher.Task, 0, len(symbols))
		for _, s := range symbols {
			tasks = append(tasks, build(s))
		}
		return tasks
	}

	add(storage.CategoryHistorical, perSymbol(func(s string) fetcher.Task {
		return c.api.HistoricalTask(s, plan.Range)
	})...)
	add(storage.CategoryFundamentals, perSymbol(c.api.FundamentalsTask)...)
	add(storage.CategoryNews, perSymbol(func(s string) fetcher.Task {
		return c.api.NewsTask(s, plan.News)
	})...)

	if len(symbols) > 0 {
		add(storage.CategoryEarnings, c.api.EarningsTask(symbols, plan.Range))
		add(storage.CategoryTrends, c.api.TrendsTask(symbols))
	}

	indices := make([]fetcher.Task, 0, len(plan.Indices))
	for _, idx := range plan.Indices {
		indices = append(indices, c.api.IndexTask(idx, plan.Range))
	}
	add(storage.CategoryIndices, indices...)

	add(storage.CategoryIPOs, c.api.IPOsTask(plan.Range))
	add(storage.CategorySplits, c.api.SplitsTask(plan.Range))

	macro := make([]fetcher.Task, 0, len(plan.Countries))
	for _, country := range plan.Countries {
		macro = append(macro, c.api.MacroTask(country, plan.MacroIndicators))
	}
	add(storage.CategoryMacro, macro...)

	return groups
}

// persistAll writes every successful outcome. Categories are persisted
// concurrently and a failing category never blocks another.
func (c *Collector) persistAll(ctx context.Context, log logrus.FieldLogger, groups []coordinator.Group, results coordinator.Results, report coordinator.Report) {
	var mu sync.Mutex
	var wg conc.WaitGroup

	for _, g := range groups {
		label := g.Label
		outcomes := results[label]
		wg.Go(func() {
			for _, o := range outcomes {
				if !o.OK() {
					continue
				}

				res, err := c.persist(ctx, label, o.Payload)
				entry := log.WithFields(logrus.Fields{"category": label, "key": o.Key})
				if err != nil {
					entry.WithError(err).Error("persist failed")
					key := o.Key
					if slices.Contains(aggregateLabels, label) {
						key = coordinator.KeyAll
					}
					mu.Lock()
					report.Add(label, key, err)
					mu.Unlock()
					continue
				}
				entry.WithFields(logrus.Fields{
					"payload": eodhd.Describe(o.Payload),
					"result":  res.String(),
				}).Debug("persisted")
			}
		})
	}
	wg.Wait()
}

// persist routes a payload to the store method of its category
func (c *Collector) persist(ctx context.Context, label string, payload any) (storage.Result, error) {
	switch p := payload.(type) {
	case eodhd.Series:
		switch label {
		case storage.CategoryHistorical:
			return c.store.SaveHistorical(ctx, p.Entity, p.Records)
		case storage.CategoryIndices:
			return c.store.SaveIndex(ctx, p.Entity, p.Records)
		case storage.CategoryNews:
			return c.store.SaveNews(ctx, p.Entity, p.Records)
		case storage.CategoryMacro:
			return c.store.SaveMacro(ctx, p.Entity, p.Records)
		}
	case eodhd.Fundamentals:
		if label == storage.CategoryFundamentals {
			return c.store.SaveFundamentals(ctx, p.Symbol, p.Document)
		}
	case eodhd.Calendar:
		switch label {
		case storage.CategoryEarnings:
			return c.store.SaveEarnings(ctx, p)
		case storage.CategoryTrends:
			return c.store.SaveTrends(ctx, p)
		}
	case []eodhd.Document:
		switch label {
		case storage.CategoryIPOs:
			return c.store.SaveIPOs(ctx, p)
		case storage.CategorySplits:
			return c.store.SaveSplits(ctx, p)
		}
	}
	return storage.Result{}, fmt.Errorf("no persistence route for %s payload %T", label, payload)
}
