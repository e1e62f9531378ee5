package models

// Source tags where a served quote came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceAPI   Source = "api"
)

// QuoteRecord is the persisted quote document, keyed by Symbol.
type QuoteRecord struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	PercentChange string  `json:"percent_change"`
	LastUpdated   string  `json:"last_updated"`
}

// Quote is a QuoteRecord as served, tagged with its provenance.
type Quote struct {
	QuoteRecord
	Source Source `json:"source"`
}
