package eodhd

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

type earningsResponse struct {
	Earnings []Document `json:"earnings"`
}

type trendsResponse struct {
	Trends [][]Document `json:"trends"`
}

type iposResponse struct {
	IPOs []Document `json:"ipos"`
}

type splitsResponse struct {
	Splits []Document `json:"splits"`
}

// Earnings retrieves the earnings calendar. With symbols set the request is
// restricted to them and every requested symbol gets an entry, possibly
// without records.
func (a *API) Earnings(ctx context.Context, symbols []string, rng Range) (Calendar, error) {
	params := url.Values{}
	if len(symbols) > 0 {
		params.Set("symbols", strings.Join(symbols, ","))
	}
	rng.apply(params)

	var resp earningsResponse
	if err := a.client.Get(ctx, "/api/calendar/earnings", params, &resp); err != nil {
		return Calendar{}, fmt.Errorf("failed to fetch earnings calendar: %w", err)
	}
	return groupByCode(symbols, resp.Earnings), nil
}

// Trends retrieves earnings trends; the provider answers with one record
// list per requested symbol.
func (a *API) Trends(ctx context.Context, symbols []string) (Calendar, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))

	var resp trendsResponse
	if err := a.client.Get(ctx, "/api/calendar/trends", params, &resp); err != nil {
		return Calendar{}, fmt.Errorf("failed to fetch trends calendar: %w", err)
	}

	cal := Calendar{Entries: make([]SymbolRecords, 0, len(resp.Trends))}
	for i, records := range resp.Trends {
		symbol := ""
		if len(records) > 0 {
			symbol = codeOf(records[0])
		}
		if symbol == "" && i < len(symbols) {
			symbol = symbols[i]
		}
		cal.Entries = append(cal.Entries, SymbolRecords{Symbol: symbol, Records: records})
	}
	return cal, nil
}

// IPOs retrieves the IPO calendar
func (a *API) IPOs(ctx context.Context, rng Range) ([]Document, error) {
	params := url.Values{}
	rng.apply(params)

	var resp iposResponse
	if err := a.client.Get(ctx, "/api/calendar/ipos", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch IPO calendar: %w", err)
	}
	return resp.IPOs, nil
}

// Splits retrieves the splits calendar
func (a *API) Splits(ctx context.Context, rng Range) ([]Document, error) {
	params := url.Values{}
	rng.apply(params)

	var resp splitsResponse
	if err := a.client.Get(ctx, "/api/calendar/splits", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch splits calendar: %w", err)
	}
	return resp.Splits, nil
}

// groupByCode splits a flat record list into per-symbol lists. Requested
// symbols come first in request order, then any other code in first-seen order.
func groupByCode(symbols []string, records []Document) Calendar {
	index := make(map[string]int, len(symbols))
	cal := Calendar{Entries: make([]SymbolRecords, 0, len(symbols))}

	add := func(symbol string) int {
		if i, ok := index[symbol]; ok {
			return i
		}
		index[symbol] = len(cal.Entries)
		cal.Entries = append(cal.Entries, SymbolRecords{Symbol: symbol})
		return index[symbol]
	}

	for _, s := range symbols {
		add(s)
	}
	for _, r := range records {
		i := add(codeOf(r))
		cal.Entries[i].Records = append(cal.Entries[i].Records, r)
	}
	return cal
}

func codeOf(doc Document) string {
	code, _ := doc["code"].(string)
	return code
}
