// Package eodhd translates market data requests into EODHD API calls.
//
// Operations here never retry and never persist: retry belongs to the
// transport client, persistence to package storage.
package eodhd

import (
	"context"
	"net/url"
	"time"
)

const dateLayout = "2006-01-02"

// KeyAll is the entity key used for calendar-wide requests
const KeyAll = "all"

// Document is a raw JSON object as returned by the provider
type Document = map[string]any

// Getter is the part of the transport client the operations depend on
type Getter interface {
	Get(ctx context.Context, path string, params url.Values, out any) error
}

// Range bounds a request by date. Zero values are omitted.
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) apply(params url.Values) {
	if !r.From.IsZero() {
		params.Set("from", r.From.Format(dateLayout))
	}
	if !r.To.IsZero() {
		params.Set("to", r.To.Format(dateLayout))
	}
}

// Series is a list of records belonging to one entity (symbol, index or country)
type Series struct {
	Entity  string
	Records []Document
}

// Fundamentals is the nested fundamentals document of one symbol
type Fundamentals struct {
	Symbol   string
	Document Document
}

// SymbolRecords groups calendar records of one symbol. Records may be empty.
type SymbolRecords struct {
	Symbol  string
	Records []Document
}

// Calendar is an earnings or trends payload split into per-symbol record lists
type Calendar struct {
	Entries []SymbolRecords
}

// Len returns the total number of records across all symbols
func (c Calendar) Len() int {
	n := 0
	for _, e := range c.Entries {
		n += len(e.Records)
	}
	return n
}

// API exposes the EODHD endpoints used by the collector
type API struct {
	client Getter
}

// New creates a new API on top of a transport client
func New(client Getter) *API {
	return &API{client: client}
}
