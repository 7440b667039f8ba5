package eodhd

import (
	"context"
	"fmt"

	"marketcollector/internal/fetcher"
)

// HistoricalTask fetches end-of-day bars for one symbol; payload is Series
func (a *API) HistoricalTask(symbol string, rng Range) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: symbol,
		Fn: func(ctx context.Context) (any, error) {
			key, bars, err := a.Historical(ctx, symbol, rng)
			if err != nil {
				return nil, err
			}
			return Series{Entity: key, Records: bars}, nil
		},
	}
}

// IndexTask fetches daily bars for one index; payload is Series
func (a *API) IndexTask(index string, rng Range) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: index,
		Fn: func(ctx context.Context) (any, error) {
			key, bars, err := a.Index(ctx, index, rng)
			if err != nil {
				return nil, err
			}
			return Series{Entity: key, Records: bars}, nil
		},
	}
}

// FundamentalsTask fetches the fundamentals of one symbol; payload is Fundamentals
func (a *API) FundamentalsTask(symbol string) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: symbol,
		Fn: func(ctx context.Context) (any, error) {
			key, doc, err := a.Fundamentals(ctx, symbol)
			if err != nil {
				return nil, err
			}
			return Fundamentals{Symbol: key, Document: doc}, nil
		},
	}
}

// NewsTask fetches news of one symbol; payload is Series
func (a *API) NewsTask(symbol string, q NewsQuery) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: symbol,
		Fn: func(ctx context.Context) (any, error) {
			key, articles, err := a.News(ctx, symbol, q)
			if err != nil {
				return nil, err
			}
			return Series{Entity: key, Records: articles}, nil
		},
	}
}

// EarningsTask fetches the earnings calendar for symbols; payload is Calendar
func (a *API) EarningsTask(symbols []string, rng Range) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: KeyAll,
		Fn: func(ctx context.Context) (any, error) {
			return a.Earnings(ctx, symbols, rng)
		},
	}
}

// TrendsTask fetches earnings trends for symbols; payload is Calendar
func (a *API) TrendsTask(symbols []string) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: KeyAll,
		Fn: func(ctx context.Context) (any, error) {
			return a.Trends(ctx, symbols)
		},
	}
}

// IPOsTask fetches the IPO calendar; payload is []Document
func (a *API) IPOsTask(rng Range) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: KeyAll,
		Fn: func(ctx context.Context) (any, error) {
			return a.IPOs(ctx, rng)
		},
	}
}

// SplitsTask fetches the splits calendar; payload is []Document
func (a *API) SplitsTask(rng Range) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: KeyAll,
		Fn: func(ctx context.Context) (any, error) {
			return a.Splits(ctx, rng)
		},
	}
}

// MacroTask fetches every indicator for one country, one request per
// indicator, and returns them as a single Series. The first failing
// indicator fails the task.
func (a *API) MacroTask(country string, indicators []string) fetcher.Task {
	return fetcher.TaskFunc{
		Entity: country,
		Fn: func(ctx context.Context) (any, error) {
			wanted := indicators
			if len(wanted) == 0 {
				wanted = []string{""}
			}

			series := Series{Entity: country}
			for _, ind := range wanted {
				_, records, err := a.MacroIndicators(ctx, country, ind)
				if err != nil {
					return nil, err
				}
				series.Records = append(series.Records, records...)
			}
			return series, nil
		},
	}
}

// Describe returns a short human readable description of a payload
func Describe(payload any) string {
	switch p := payload.(type) {
	case Series:
		return fmt.Sprintf("%s: %d records", p.Entity, len(p.Records))
	case Fundamentals:
		return fmt.Sprintf("%s: fundamentals", p.Symbol)
	case Calendar:
		return fmt.Sprintf("%d symbols, %d records", len(p.Entries), p.Len())
	case []Document:
		return fmt.Sprintf("%d records", len(p))
	default:
		return fmt.Sprintf("%T", payload)
	}
}
