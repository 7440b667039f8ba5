package storage

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"marketcollector/internal/eodhd"
)

// maxIndexKeys is MongoDB's limit on fields in a compound index
const maxIndexKeys = 32

// Options configures a Store
type Options struct {
	Logger     logrus.FieldLogger
	Namespaces Namespaces
}

// Store exposes one upsert method per data category on top of a Backend.
// It is safe for concurrent use by different categories.
type Store struct {
	backend    Backend
	logger     logrus.FieldLogger
	categories map[string]Category

	mu      sync.Mutex
	indexed map[string]struct{}
}

// Result summarises one Save call
type Result struct {
	UpsertResult
	Ops     int
	Skipped int
}

// New creates a Store writing through backend
func New(backend Backend, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Namespaces == (Namespaces{}) {
		opts.Namespaces = DefaultNamespaces
	}

	return &Store{
		backend:    backend,
		logger:     opts.Logger,
		categories: categories(opts.Namespaces),
		indexed:    make(map[string]struct{}),
	}
}

// Ping checks that the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend
func (s *Store) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

// Category returns the mapping for a category name
func (s *Store) Category(name string) (Category, bool) {
	c, ok := s.categories[name]
	return c, ok
}

// SaveHistorical upserts daily bars of symbol keyed by (symbol, date)
func (s *Store) SaveHistorical(ctx context.Context, symbol string, bars []eodhd.Document) (Result, error) {
	return s.saveSeries(ctx, CategoryHistorical, symbol, bars)
}

// SaveIndex upserts daily bars of an index into the historical collection
func (s *Store) SaveIndex(ctx context.Context, index string, bars []eodhd.Document) (Result, error) {
	return s.saveSeries(ctx, CategoryIndices, index, bars)
}

// SaveNews upserts articles of symbol keyed by (symbol, date, title)
func (s *Store) SaveNews(ctx context.Context, symbol string, articles []eodhd.Document) (Result, error) {
	return s.saveSeries(ctx, CategoryNews, symbol, articles)
}

// SaveFundamentals replaces the fundamentals document of symbol as a whole
func (s *Store) SaveFundamentals(ctx context.Context, symbol string, doc eodhd.Document) (Result, error) {
	cat := s.categories[CategoryFundamentals]
	if len(doc) == 0 {
		return Result{}, nil
	}

	d := bson.M(maps.Clone(doc))
	d["symbol"] = symbol
	if general, ok := doc["General"].(map[string]any); ok {
		if name, ok := general["Name"].(string); ok && name != "" {
			d["name"] = name
		}
	}
	return s.write(ctx, cat, symbol, []bson.M{d})
}

// SaveIPOs upserts IPO calendar entries keyed by (code, start_date)
func (s *Store) SaveIPOs(ctx context.Context, ipos []eodhd.Document) (Result, error) {
	return s.write(ctx, s.categories[CategoryIPOs], eodhd.KeyAll, cloneAll(ipos, nil))
}

// SaveSplits upserts splits calendar entries keyed by (code, split_date)
func (s *Store) SaveSplits(ctx context.Context, splits []eodhd.Document) (Result, error) {
	return s.write(ctx, s.categories[CategorySplits], eodhd.KeyAll, cloneAll(splits, nil))
}

// SaveMacro stores one document per (country_code, indicator) holding the
// whole series of that indicator under "data"
func (s *Store) SaveMacro(ctx context.Context, country string, records []eodhd.Document) (Result, error) {
	return s.write(ctx, s.categories[CategoryMacro], country, macroDocuments(country, records))
}

// SaveEarnings upserts an earnings calendar. See saveComposite for the key.
func (s *Store) SaveEarnings(ctx context.Context, cal eodhd.Calendar) (Result, error) {
	return s.saveComposite(ctx, s.categories[CategoryEarnings], cal)
}

// SaveTrends upserts an earnings trends calendar. See saveComposite for the key.
func (s *Store) SaveTrends(ctx context.Context, cal eodhd.Calendar) (Result, error) {
	return s.saveComposite(ctx, s.categories[CategoryTrends], cal)
}

func (s *Store) saveSeries(ctx context.Context, name, entity string, records []eodhd.Document) (Result, error) {
	return s.write(ctx, s.categories[name], entity, cloneAll(records, bson.M{"symbol": entity}))
}

// write builds one upsert per document filtered by the category key and
// submits them as a single batch
func (s *Store) write(ctx context.Context, cat Category, entity string, docs []bson.M) (Result, error) {
	if len(docs) == 0 {
		return Result{}, nil
	}

	var res Result
	ops := make([]Upsert, 0, len(docs))
	for _, d := range docs {
		filter, missing := keyFilter(d, cat.Keys, false)
		if len(missing) > 0 {
			s.skip(&MissingKeyFieldError{Category: cat.Name, Entity: entity, Fields: missing})
			res.Skipped++
			continue
		}
		ops = append(ops, Upsert{Filter: filter, Doc: d, Replace: cat.Replace})
	}

	if err := s.ensureIndex(ctx, cat.Ref, cat.Keys); err != nil {
		return res, &PersistenceError{Category: cat.Name, Cause: err}
	}
	return s.submit(ctx, cat, entity, ops, res)
}

// saveComposite handles earnings and trends. Their key is "symbol" plus every
// field present in the first record of each symbol's list, so a record whose
// values change (an estimate becoming an actual) is stored as a new document.
// Symbols without records are skipped.
func (s *Store) saveComposite(ctx context.Context, cat Category, cal eodhd.Calendar) (Result, error) {
	var (
		res     Result
		ops     []Upsert
		keysets [][]string
	)

	for _, entry := range cal.Entries {
		if len(entry.Records) == 0 {
			s.logger.WithFields(logrus.Fields{"category": cat.Name, "symbol": entry.Symbol}).Debug("no records, skipping symbol")
			continue
		}
		if entry.Symbol == "" {
			s.skip(&MissingKeyFieldError{Category: cat.Name, Fields: []string{"symbol"}})
			res.Skipped += len(entry.Records)
			continue
		}

		keys := compositeKeys(entry.Records[0])
		keysets = append(keysets, keys)

		for _, d := range cloneAll(entry.Records, bson.M{"symbol": entry.Symbol}) {
			filter, missing := keyFilter(d, keys, true)
			if len(missing) > 0 {
				s.skip(&MissingKeyFieldError{Category: cat.Name, Entity: entry.Symbol, Fields: missing})
				res.Skipped++
				continue
			}
			ops = append(ops, Upsert{Filter: filter, Doc: d})
		}
	}

	for _, keys := range keysets {
		if len(keys) > maxIndexKeys {
			s.logger.WithFields(logrus.Fields{"category": cat.Name, "fields": len(keys)}).Warn("too many key fields for a unique index, relying on upsert filter only")
			continue
		}
		if err := s.ensureIndex(ctx, cat.Ref, keys); err != nil {
			// The key is inferred from data; a shape the index cannot cover
			// must not block the write.
			s.logger.WithField("category", cat.Name).WithError(err).Warn("unique index not created")
		}
	}
	return s.submit(ctx, cat, eodhd.KeyAll, ops, res)
}

func (s *Store) submit(ctx context.Context, cat Category, entity string, ops []Upsert, res Result) (Result, error) {
	if len(ops) == 0 {
		return res, nil
	}

	res.Ops = len(ops)
	written, err := s.backend.BulkUpsert(ctx, cat.Ref, ops)
	res.UpsertResult = written
	if err != nil {
		return res, &PersistenceError{Category: cat.Name, Cause: err}
	}

	s.logger.WithFields(logrus.Fields{
		"category": cat.Name,
		"entity":   entity,
		"ops":      res.Ops,
		"upserted": written.Upserted,
		"matched":  written.Matched,
		"skipped":  res.Skipped,
	}).Info("stored records")
	return res, nil
}

// ensureIndex creates the unique index for (ref, keys) once per Store
func (s *Store) ensureIndex(ctx context.Context, ref CollectionRef, keys []string) error {
	id := ref.String() + "|" + strings.Join(keys, ",")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.indexed[id]; done {
		return nil
	}
	if err := s.backend.EnsureUniqueIndex(ctx, ref, keys); err != nil {
		return err
	}
	s.indexed[id] = struct{}{}
	return nil
}

func (s *Store) skip(err *MissingKeyFieldError) {
	s.logger.WithFields(logrus.Fields{
		"category": err.Category,
		"entity":   err.Entity,
	}).Warn(err.Error())
}

// keyFilter extracts the key fields of d in key order. A field is missing
// when absent, or when nil unless allowNull is set.
func keyFilter(d bson.M, keys []string, allowNull bool) (bson.D, []string) {
	filter := make(bson.D, 0, len(keys))
	var missing []string
	for _, k := range keys {
		v, ok := d[k]
		if !ok || (v == nil && !allowNull) {
			missing = append(missing, k)
			continue
		}
		filter = append(filter, bson.E{Key: k, Value: v})
	}
	return filter, missing
}

// compositeKeys returns "symbol" followed by the sorted field names of first
func compositeKeys(first eodhd.Document) []string {
	keys := make([]string, 0, len(first)+1)
	for k := range first {
		if k != "symbol" && k != "_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return append([]string{"symbol"}, keys...)
}

// cloneAll copies every record and sets the stamp fields on each copy
func cloneAll(records []eodhd.Document, stamp bson.M) []bson.M {
	out := make([]bson.M, 0, len(records))
	for _, r := range records {
		d := bson.M(maps.Clone(r))
		if d == nil {
			d = bson.M{}
		}
		for k, v := range stamp {
			d[k] = v
		}
		out = append(out, d)
	}
	return out
}

// macroDocuments groups a country's indicator records into one document per
// indicator, in first-seen order
func macroDocuments(country string, records []eodhd.Document) []bson.M {
	var (
		docs  []bson.M
		index = map[string]int{}
	)

	for _, r := range records {
		indicator, _ := r["Indicator"].(string)
		i, ok := index[indicator]
		if !ok {
			code, _ := r["CountryCode"].(string)
			if code == "" {
				code = strings.ToUpper(country)
			}
			d := bson.M{"country_code": code, "data": []eodhd.Document{}}
			if indicator != "" {
				d["indicator"] = indicator
			}
			if name, ok := r["CountryName"].(string); ok {
				d["country_name"] = name
			}
			i = len(docs)
			index[indicator] = i
			docs = append(docs, d)
		}
		docs[i]["data"] = append(docs[i]["data"].([]eodhd.Document), r)
	}
	return docs
}

// String describes a Result for logs
func (r Result) String() string {
	return fmt.Sprintf("ops=%d upserted=%d matched=%d skipped=%d", r.Ops, r.Upserted, r.Matched, r.Skipped)
}
