package eodhd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type symbolListEntry struct {
	Code string `json:"Code"`
}

// ExchangeSymbols lists the ticker codes traded on exchange
func (a *API) ExchangeSymbols(ctx context.Context, exchange string) ([]string, error) {
	var entries []symbolListEntry
	path := "/api/exchange-symbol-list/" + url.PathEscape(exchange)
	if err := a.client.Get(ctx, path, url.Values{}, &entries); err != nil {
		return nil, fmt.Errorf("failed to fetch symbols for exchange %s: %w", exchange, err)
	}

	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Code != "" {
			codes = append(codes, e.Code)
		}
	}
	return codes, nil
}

// Historical retrieves daily end-of-day bars for symbol
func (a *API) Historical(ctx context.Context, symbol string, rng Range) (string, []Document, error) {
	bars, err := a.eod(ctx, symbol, rng)
	if err != nil {
		return symbol, nil, fmt.Errorf("failed to fetch historical data for %s: %w", symbol, err)
	}
	return symbol, bars, nil
}

// Index retrieves daily bars for an index code such as GSPC.INDX
func (a *API) Index(ctx context.Context, index string, rng Range) (string, []Document, error) {
	bars, err := a.eod(ctx, index, rng)
	if err != nil {
		return index, nil, fmt.Errorf("failed to fetch index data for %s: %w", index, err)
	}
	return index, bars, nil
}

func (a *API) eod(ctx context.Context, code string, rng Range) ([]Document, error) {
	params := url.Values{}
	params.Set("period", "d")
	rng.apply(params)

	var bars []Document
	if err := a.client.Get(ctx, "/api/eod/"+url.PathEscape(code), params, &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// Fundamentals retrieves the fundamentals document for symbol
func (a *API) Fundamentals(ctx context.Context, symbol string) (string, Document, error) {
	var doc Document
	if err := a.client.Get(ctx, "/api/fundamentals/"+url.PathEscape(symbol), url.Values{}, &doc); err != nil {
		return symbol, nil, fmt.Errorf("failed to fetch fundamentals for %s: %w", symbol, err)
	}
	return symbol, doc, nil
}

// NewsQuery narrows a news request
type NewsQuery struct {
	Range
	Limit  int
	Offset int
}

// News retrieves news articles mentioning symbol
func (a *API) News(ctx context.Context, symbol string, q NewsQuery) (string, []Document, error) {
	params := url.Values{}
	params.Set("s", symbol)
	q.apply(params)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var articles []Document
	if err := a.client.Get(ctx, "/api/news", params, &articles); err != nil {
		return symbol, nil, fmt.Errorf("failed to fetch news for %s: %w", symbol, err)
	}
	return symbol, articles, nil
}

// MacroIndicators retrieves a macroeconomic indicator series for a country
// (ISO alpha-3, e.g. USA). An empty indicator lets the provider pick its default.
func (a *API) MacroIndicators(ctx context.Context, country, indicator string) (string, []Document, error) {
	params := url.Values{}
	if indicator != "" {
		params.Set("indicator", indicator)
	}

	var records []Document
	path := "/api/macro-indicator/" + url.PathEscape(strings.ToUpper(country))
	if err := a.client.Get(ctx, path, params, &records); err != nil {
		return country, nil, fmt.Errorf("failed to fetch macro indicator %q for %s: %w", indicator, country, err)
	}
	return country, records, nil
}
