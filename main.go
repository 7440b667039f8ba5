package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"marketcollector/internal/collector"
	"marketcollector/internal/config"
	"marketcollector/internal/coordinator"
	"marketcollector/internal/eodhd"
	"marketcollector/internal/fetcher"
	"marketcollector/internal/logging"
	"marketcollector/internal/ratelimit"
	"marketcollector/internal/storage"
)

// errRunFailed makes the process exit non-zero when the report is not empty
var errRunFailed = errors.New("collection finished with failures")

type options struct {
	symbols    []string
	exchange   string
	maxSymbols int
	indices    []string
	countries  []string
	indicators []string
	categories []string
	from       string
	to         string
	newsLimit  int
	dryRun     bool
	timeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "marketcollector",
		Short: "Fetch EODHD market data and upsert it into MongoDB",
		Long: `marketcollector fetches end-of-day prices, fundamentals, news, calendars
and macro indicators from EODHD concurrently and upserts every category into
MongoDB. Re-running converges instead of duplicating records.

Examples:
  marketcollector --symbols AAPL,TSLA --from 2024-01-01
  marketcollector --exchange US --max-symbols 50 --categories historical,fundamentals
  marketcollector --countries USA --indicators gdp_current_usd --dry-run`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.symbols, "symbols", nil, "ticker symbols to collect (overrides SYMBOLS)")
	f.StringVar(&opts.exchange, "exchange", "", "also collect every symbol listed on this exchange")
	f.IntVar(&opts.maxSymbols, "max-symbols", 0, "cap on symbols taken from --exchange (0 = no cap)")
	f.StringSliceVar(&opts.indices, "indices", nil, "index codes, e.g. GSPC.INDX")
	f.StringSliceVar(&opts.countries, "countries", nil, "ISO alpha-3 countries for macro indicators")
	f.StringSliceVar(&opts.indicators, "indicators", nil, "macro indicators to fetch per country")
	f.StringSliceVar(&opts.categories, "categories", nil, "restrict to categories: "+strings.Join(collector.AllCategories, ","))
	f.StringVar(&opts.from, "from", "", "start date (YYYY-MM-DD)")
	f.StringVar(&opts.to, "to", "", "end date (YYYY-MM-DD)")
	f.IntVar(&opts.newsLimit, "news-limit", 0, "articles per symbol (overrides NEWS_LIMIT)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "fetch and persist into memory only")
	f.DurationVar(&opts.timeout, "timeout", 0, "abort the run after this long (0 = no limit)")

	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig.String()).Warn("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, opts.timeout)
		defer timeoutCancel()
	}

	var backend storage.Backend
	if opts.dryRun {
		logger.Info("dry run, persisting into memory")
		backend = storage.NewMemory()
	} else {
		if err := cfg.ValidateStore(); err != nil {
			return err
		}
		backend, err = storage.NewMongo(ctx, storage.MongoConfig{
			URI:            cfg.MongoURI,
			ConnectTimeout: cfg.StoreTimeout,
		})
		if err != nil {
			return err
		}
	}

	report, err := collect(ctx, cfg, opts, backend, logger)
	if err != nil {
		return err
	}

	if !report.Empty() {
		fmt.Fprintf(os.Stderr, "%d failures:\n%s\n", report.Count(), report)
		return errRunFailed
	}
	fmt.Println("All categories collected.")
	return nil
}

// collect wires the pipeline around backend and runs it once. The backend is
// closed before returning.
func collect(ctx context.Context, cfg *config.Config, opts options, backend storage.Backend, logger *logrus.Logger) (report coordinator.Report, err error) {
	limiter := ratelimit.New(map[ratelimit.API]ratelimit.Limit{
		ratelimit.APIEODHD:        {RPS: cfg.RateLimitRPS, Burst: int(cfg.RateLimitRPS)},
		ratelimit.APIFundamentals: {RPS: cfg.FundamentalsRPS, Burst: 1},
	})

	client := fetcher.NewClient(fetcher.ClientConfig{
		BaseURL:    cfg.EODHDBaseURL,
		APIToken:   cfg.EODHDAPIToken,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		Timeout:    cfg.RequestTimeout,
		Limiter:    limiter,
		Logger:     logger,
	})

	store := storage.New(backend, storage.Options{
		Logger: logger,
		Namespaces: storage.Namespaces{
			Market:   cfg.MarketDB,
			Calendar: cfg.CalendarDB,
			Macro:    cfg.MacroDB,
		},
	})

	defer func() {
		// The run context may already be cancelled; closing must still happen.
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Combine(err, store.Close(closeCtx), client.Close())
	}()

	plan, err := buildPlan(cfg, opts)
	if err != nil {
		return nil, err
	}

	coord := coordinator.New(coordinator.WithHooks(coordinator.LogHook{Logger: logger}))
	c := collector.New(eodhd.New(client), store, coord, logger)

	logger.WithFields(logrus.Fields{
		"symbols":    len(plan.Symbols),
		"exchange":   plan.Exchange,
		"indices":    len(plan.Indices),
		"countries":  len(plan.Countries),
		"categories": plan.Categories,
	}).Info("starting collection")

	return c.Run(ctx, plan)
}

// buildPlan merges flags over configuration; flags win when set
func buildPlan(cfg *config.Config, opts options) (collector.Plan, error) {
	plan := collector.Plan{
		Symbols:         orList(opts.symbols, cfg.Symbols),
		Exchange:        orString(opts.exchange, cfg.Exchange),
		MaxSymbols:      opts.maxSymbols,
		Indices:         orList(opts.indices, cfg.Indices),
		Countries:       orList(opts.countries, cfg.Countries),
		MacroIndicators: orList(opts.indicators, cfg.MacroIndicators),
		Categories:      opts.categories,
		News:            eodhd.NewsQuery{Limit: cfg.NewsLimit},
	}
	if opts.newsLimit > 0 {
		plan.News.Limit = opts.newsLimit
	}

	for _, c := range plan.Categories {
		if !contains(collector.AllCategories, c) {
			return plan, fmt.Errorf("unknown category %q, expected one of %s", c, strings.Join(collector.AllCategories, ","))
		}
	}

	var err error
	if plan.Range.From, err = parseDate("from", opts.from); err != nil {
		return plan, err
	}
	if plan.Range.To, err = parseDate("to", opts.to); err != nil {
		return plan, err
	}
	if !plan.Range.From.IsZero() && !plan.Range.To.IsZero() && plan.Range.To.Before(plan.Range.From) {
		return plan, fmt.Errorf("--to %s is before --from %s", opts.to, opts.from)
	}
	plan.News.Range = plan.Range
	return plan, nil
}

func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date %q: %w", name, value, err)
	}
	return t, nil
}

func orList(flag, fallback []string) []string {
	if len(flag) > 0 {
		return flag
	}
	return fallback
}

func orString(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
