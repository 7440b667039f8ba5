package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcollector/internal/coordinator"
	"marketcollector/internal/eodhd"
	"marketcollector/internal/fetcher"
	"marketcollector/internal/ratelimit"
	"marketcollector/internal/storage"
	"marketcollector/internal/testutil"
)

var (
	historicalRef   = storage.CollectionRef{Database: "eodhd", Collection: "historical_data"}
	fundamentalsRef = storage.CollectionRef{Database: "eodhd", Collection: "fundamentals_data"}
	newsRef         = storage.CollectionRef{Database: "eodhd", Collection: "news"}
	earningsRef     = storage.CollectionRef{Database: "eodhd", Collection: "earnings"}
	trendsRef       = storage.CollectionRef{Database: "eodhd", Collection: "trends"}
	iposRef         = storage.CollectionRef{Database: "eodhd_calendar", Collection: "ipos"}
	splitsRef       = storage.CollectionRef{Database: "eodhd_calendar", Collection: "splits"}
	macroRef        = storage.CollectionRef{Database: "eodhd_macro", Collection: "macro_indicators"}
)

// provider serves canned EODHD responses. Symbols listed in failing answer 404.
type provider struct {
	hits    atomic.Int32
	failing map[string]bool
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.hits.Add(1)
	path := r.URL.Path

	for symbol := range p.failing {
		if strings.HasSuffix(path, "/"+symbol) || r.URL.Query().Get("s") == symbol {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(path, "/api/exchange-symbol-list/"):
		w.Write([]byte(`[{"Code":"AAPL"},{"Code":"TSLA"},{"Code":"MSFT"}]`))
	case strings.HasPrefix(path, "/api/eod/"):
		w.Write([]byte(`[{"date":"2024-01-02","close":185.6},{"date":"2024-01-03","close":184.2}]`))
	case strings.HasPrefix(path, "/api/fundamentals/"):
		w.Write([]byte(`{"General":{"Name":"Apple Inc"},"Highlights":{"PERatio":29.1}}`))
	case path == "/api/news":
		w.Write([]byte(`[{"date":"2024-01-02T10:00:00+00:00","title":"Earnings beat"}]`))
	case path == "/api/calendar/earnings":
		w.Write([]byte(`{"earnings":[{"code":"AAPL","date":"2024-01-25","report_date":"2024-01-25","actual":2.18}]}`))
	case path == "/api/calendar/trends":
		w.Write([]byte(`{"trends":[[{"code":"AAPL","date":"2024-03-31","period":"0q"}]]}`))
	case path == "/api/calendar/ipos":
		w.Write([]byte(`{"ipos":[{"code":"NEWCO","start_date":"2024-02-01","exchange":"NASDAQ"}]}`))
	case path == "/api/calendar/splits":
		w.Write([]byte(`{"splits":[{"code":"NVDA","split_date":"2024-06-10","ratio":"10/1"}]}`))
	case strings.HasPrefix(path, "/api/macro-indicator/"):
		w.Write([]byte(`[{"CountryCode":"USA","CountryName":"United States","Indicator":"GDP","Date":"2023-12-31","Value":27.36}]`))
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	collector *Collector
	memory    *storage.Memory
	provider  *provider
}

func newFixture(t *testing.T, backend func(*storage.Memory) storage.Backend, failing ...string) *fixture {
	t.Helper()

	p := &provider{failing: map[string]bool{}}
	for _, s := range failing {
		p.failing[s] = true
	}
	server := httptest.NewServer(p)
	t.Cleanup(server.Close)

	logger := testutil.DiscardLogger()
	client := fetcher.NewClient(fetcher.ClientConfig{
		BaseURL:    server.URL,
		APIToken:   "test_token",
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Limiter:    ratelimit.Unlimited(),
		Logger:     logger,
	})
	t.Cleanup(func() { client.Close() })

	mem := storage.NewMemory()
	var b storage.Backend = mem
	if backend != nil {
		b = backend(mem)
	}
	store := storage.New(b, storage.Options{Logger: logger})

	coord := coordinator.New(coordinator.WithHooks(coordinator.LogHook{Logger: logger}))
	return &fixture{
		collector: New(eodhd.New(client), store, coord, logger),
		memory:    mem,
		provider:  p,
	}
}

func symbolsOf(docs []map[string]any) map[string]int {
	out := map[string]int{}
	for _, d := range docs {
		s, _ := d["symbol"].(string)
		out[s]++
	}
	return out
}

func documents(m *storage.Memory, ref storage.CollectionRef) []map[string]any {
	var out []map[string]any
	for _, d := range m.Documents(ref) {
		out = append(out, d)
	}
	return out
}

func TestRun_TwoSymbolsHistorical(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.collector.Run(context.Background(), Plan{
		Symbols:    []string{"AAPL", "TSLA"},
		Categories: []string{storage.CategoryHistorical},
	})
	require.NoError(t, err)

	assert.Empty(t, report)
	assert.Equal(t, StateCompleted, f.collector.State())
	assert.Equal(t, map[string]int{"AAPL": 2, "TSLA": 2}, symbolsOf(documents(f.memory, historicalRef)))
	assert.Equal(t, 2, f.memory.Batches())
	assert.EqualValues(t, 2, f.provider.hits.Load())
}

func TestRun_RepeatedRunsConverge(t *testing.T) {
	f := newFixture(t, nil)
	plan := Plan{
		Symbols:   []string{"AAPL"},
		Indices:   []string{"GSPC.INDX"},
		Countries: []string{"usa"},
	}

	ctx := context.Background()
	report, err := f.collector.Run(ctx, plan)
	require.NoError(t, err)
	require.Empty(t, report)

	refs := []storage.CollectionRef{historicalRef, fundamentalsRef, newsRef, earningsRef, trendsRef, iposRef, splitsRef, macroRef}
	first := map[storage.CollectionRef][]map[string]any{}
	for _, ref := range refs {
		first[ref] = documents(f.memory, ref)
		assert.NotEmpty(t, first[ref], ref.String())
	}

	report, err = f.collector.Run(ctx, plan)
	require.NoError(t, err)
	require.Empty(t, report)

	for _, ref := range refs {
		assert.Equal(t, first[ref], documents(f.memory, ref), ref.String())
	}
}

func TestRun_AllCategoriesPersisted(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.collector.Run(context.Background(), Plan{
		Symbols:         []string{"AAPL"},
		Indices:         []string{"GSPC.INDX"},
		Countries:       []string{"USA"},
		MacroIndicators: []string{"gdp_current_usd"},
		News:            eodhd.NewsQuery{Limit: 10},
	})
	require.NoError(t, err)
	assert.Empty(t, report)

	assert.Equal(t, map[string]int{"AAPL": 2, "GSPC.INDX": 2}, symbolsOf(documents(f.memory, historicalRef)))

	fundamentals := documents(f.memory, fundamentalsRef)
	require.Len(t, fundamentals, 1)
	assert.Equal(t, "Apple Inc", fundamentals[0]["name"])

	assert.Len(t, documents(f.memory, newsRef), 1)
	assert.Len(t, documents(f.memory, earningsRef), 1)
	assert.Len(t, documents(f.memory, trendsRef), 1)
	assert.Len(t, documents(f.memory, iposRef), 1)
	assert.Len(t, documents(f.memory, splitsRef), 1)

	macro := documents(f.memory, macroRef)
	require.Len(t, macro, 1)
	assert.Equal(t, "USA", macro[0]["country_code"])
	assert.Equal(t, "GDP", macro[0]["indicator"])
}

func TestRun_FailureIsolation(t *testing.T) {
	f := newFixture(t, nil, "TSLA")

	report, err := f.collector.Run(context.Background(), Plan{
		Symbols:    []string{"AAPL", "TSLA", "MSFT"},
		Categories: []string{storage.CategoryHistorical},
	})
	require.NoError(t, err)

	require.Len(t, report, 1)
	require.Len(t, report[storage.CategoryHistorical], 1)
	tslaErr := report[storage.CategoryHistorical]["TSLA"]
	require.Error(t, tslaErr)
	assert.Equal(t, fetcher.KindClient, fetcher.KindOf(tslaErr))

	assert.Equal(t, map[string]int{"AAPL": 2, "MSFT": 2}, symbolsOf(documents(f.memory, historicalRef)))
	assert.Equal(t, StateCompleted, f.collector.State())
}

func TestRun_AggregateFailureReportsAll(t *testing.T) {
	f := newFixture(t, nil, "ipos")

	report, err := f.collector.Run(context.Background(), Plan{
		Categories: []string{storage.CategoryIPOs, storage.CategorySplits},
	})
	require.NoError(t, err)

	require.Len(t, report, 1)
	assert.Contains(t, report[storage.CategoryIPOs], coordinator.KeyAll)
	assert.Empty(t, documents(f.memory, iposRef))
	assert.Len(t, documents(f.memory, splitsRef), 1)
}

func TestRun_MacroFailuresReportedPerCountry(t *testing.T) {
	f := newFixture(t, nil, "USA", "DEU")

	report, err := f.collector.Run(context.Background(), Plan{
		Countries:  []string{"USA", "DEU", "FRA"},
		Categories: []string{storage.CategoryMacro},
	})
	require.NoError(t, err)

	require.Len(t, report[storage.CategoryMacro], 2)
	assert.ErrorContains(t, report[storage.CategoryMacro]["USA"], "USA")
	assert.ErrorContains(t, report[storage.CategoryMacro]["DEU"], "DEU")
	assert.NotContains(t, report[storage.CategoryMacro], coordinator.KeyAll)

	// FRA still lands; the fixture answers with USA data for every country.
	assert.Len(t, documents(f.memory, macroRef), 1)
}

func TestRun_StoreProbeFailureAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.memory.PingErr = errors.New("connection refused")

	report, err := f.collector.Run(context.Background(), Plan{Symbols: []string{"AAPL"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Nil(t, report)
	assert.Zero(t, f.provider.hits.Load())
	assert.Equal(t, StateIdle, f.collector.State())
}

func TestRun_TotalFailureStillCompletes(t *testing.T) {
	f := newFixture(t, nil, "AAPL", "TSLA")

	report, err := f.collector.Run(context.Background(), Plan{
		Symbols:    []string{"AAPL", "TSLA"},
		Categories: []string{storage.CategoryHistorical, storage.CategoryFundamentals},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Count())
	assert.Equal(t, StateCompleted, f.collector.State())
	assert.Zero(t, f.memory.Batches())
}

// failingBackend rejects writes to one collection
type failingBackend struct {
	*storage.Memory
	collection string
}

func (b failingBackend) BulkUpsert(ctx context.Context, ref storage.CollectionRef, ops []storage.Upsert) (storage.UpsertResult, error) {
	if ref.Collection == b.collection {
		return storage.UpsertResult{}, errors.New("write concern timeout")
	}
	return b.Memory.BulkUpsert(ctx, ref, ops)
}

func TestRun_PersistenceFailureIsolated(t *testing.T) {
	f := newFixture(t, func(m *storage.Memory) storage.Backend {
		return failingBackend{Memory: m, collection: "news"}
	})

	report, err := f.collector.Run(context.Background(), Plan{
		Symbols:    []string{"AAPL"},
		Categories: []string{storage.CategoryHistorical, storage.CategoryNews},
	})
	require.NoError(t, err)

	require.Len(t, report, 1)
	var perr *storage.PersistenceError
	require.ErrorAs(t, report[storage.CategoryNews]["AAPL"], &perr)
	assert.Equal(t, storage.CategoryNews, perr.Category)

	assert.Len(t, documents(f.memory, historicalRef), 2)
	assert.Empty(t, documents(f.memory, newsRef))
}

func TestRun_ExchangeDiscovery(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.collector.Run(context.Background(), Plan{
		Symbols:    []string{"TSLA"},
		Exchange:   "US",
		MaxSymbols: 2,
		Categories: []string{storage.CategoryHistorical},
	})
	require.NoError(t, err)
	assert.Empty(t, report)

	// TSLA is explicit; AAPL and TSLA come from the listing cap.
	assert.Equal(t, map[string]int{"TSLA": 2, "AAPL": 2}, symbolsOf(documents(f.memory, historicalRef)))
}

func TestRun_ExchangeDiscoveryFailureReported(t *testing.T) {
	f := newFixture(t, nil, "XX")

	report, err := f.collector.Run(context.Background(), Plan{
		Symbols:    []string{"AAPL"},
		Exchange:   "XX",
		Categories: []string{storage.CategoryHistorical},
	})
	require.NoError(t, err)

	assert.Contains(t, report[LabelExchange], "XX")
	assert.Equal(t, map[string]int{"AAPL": 2}, symbolsOf(documents(f.memory, historicalRef)))
}

func TestPlan_Groups(t *testing.T) {
	c := New(eodhd.New(nil), nil, nil, testutil.DiscardLogger())

	labels := func(groups []coordinator.Group) []string {
		out := make([]string, len(groups))
		for i, g := range groups {
			out[i] = g.Label
		}
		return out
	}

	// Without symbols only the calendar-wide categories remain.
	assert.Equal(t, []string{storage.CategoryIPOs, storage.CategorySplits}, labels(c.groups(Plan{}, nil)))

	all := c.groups(Plan{Indices: []string{"GSPC.INDX"}, Countries: []string{"USA", "DEU"}}, []string{"AAPL", "TSLA"})
	assert.Equal(t, AllCategories, labels(all))
	for _, g := range all {
		switch g.Label {
		case storage.CategoryHistorical, storage.CategoryFundamentals, storage.CategoryNews, storage.CategoryMacro:
			assert.Len(t, g.Tasks, 2, g.Label)
		default:
			assert.Len(t, g.Tasks, 1, g.Label)
		}
	}

	only := c.groups(Plan{Categories: []string{storage.CategoryNews}}, []string{"AAPL"})
	assert.Equal(t, []string{storage.CategoryNews}, labels(only))
}

func TestPersist_UnknownRoute(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.collector.persist(context.Background(), storage.CategoryHistorical, eodhd.Fundamentals{Symbol: "AAPL"})
	assert.ErrorContains(t, err, "no persistence route")
}
