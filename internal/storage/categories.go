package storage

// Category names, shared with the collector's group labels
const (
	CategoryHistorical   = "historical"
	CategoryIndices      = "indices"
	CategoryFundamentals = "fundamentals"
	CategoryNews         = "news"
	CategoryEarnings     = "earnings"
	CategoryTrends       = "trends"
	CategoryIPOs         = "ipos"
	CategorySplits       = "splits"
	CategoryMacro        = "macro"
)

// Namespaces names the database of each category family
type Namespaces struct {
	Market   string
	Calendar string
	Macro    string
}

// DefaultNamespaces keeps IPOs/splits and macro indicators apart from per-symbol data
var DefaultNamespaces = Namespaces{
	Market:   "eodhd",
	Calendar: "eodhd_calendar",
	Macro:    "eodhd_macro",
}

// Category binds a data category to its collection and natural key.
// Composite categories derive their key from the records themselves.
type Category struct {
	Name      string
	Ref       CollectionRef
	Keys      []string
	Replace   bool
	Composite bool
}

func categories(ns Namespaces) map[string]Category {
	market := func(coll string) CollectionRef { return CollectionRef{Database: ns.Market, Collection: coll} }

	// Index series share the historical collection: an index code is just
	// another symbol there.
	historical := Category{Name: CategoryHistorical, Ref: market("historical_data"), Keys: []string{"symbol", "date"}}
	indices := historical
	indices.Name = CategoryIndices

	return map[string]Category{
		CategoryHistorical:   historical,
		CategoryIndices:      indices,
		CategoryNews:         {Name: CategoryNews, Ref: market("news"), Keys: []string{"symbol", "date", "title"}},
		CategoryFundamentals: {Name: CategoryFundamentals, Ref: market("fundamentals_data"), Keys: []string{"symbol"}, Replace: true},
		CategoryEarnings:     {Name: CategoryEarnings, Ref: market("earnings"), Composite: true},
		CategoryTrends:       {Name: CategoryTrends, Ref: market("trends"), Composite: true},
		CategoryIPOs: {
			Name: CategoryIPOs,
			Ref:  CollectionRef{Database: ns.Calendar, Collection: "ipos"},
			Keys: []string{"code", "start_date"},
		},
		CategorySplits: {
			Name: CategorySplits,
			Ref:  CollectionRef{Database: ns.Calendar, Collection: "splits"},
			Keys: []string{"code", "split_date"},
		},
		CategoryMacro: {
			Name: CategoryMacro,
			Ref:  CollectionRef{Database: ns.Macro, Collection: "macro_indicators"},
			Keys: []string{"country_code", "indicator"},
		},
	}
}
