package models

// Trend is the direction of a price series from its first to last point.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

// ComputeTrend compares the last price against the first.
func ComputeTrend(prices []float64) Trend {
	if len(prices) < 2 {
		return TrendNeutral
	}
	first, last := prices[0], prices[len(prices)-1]
	switch {
	case last > first:
		return TrendUp
	case last < first:
		return TrendDown
	default:
		return TrendNeutral
	}
}

const chartKeyPrefix = "chart_"

// ChartKey is the store key of a symbol/period chart.
func ChartKey(symbol, period string) string {
	return chartKeyPrefix + symbol + "_" + period
}

// ChartRecord is the persisted chart document. Dates and Prices are parallel
// and ascending.
type ChartRecord struct {
	Symbol           string    `json:"symbol"`
	Period           string    `json:"period"`
	Dates            []string  `json:"dates"`
	Prices           []float64 `json:"prices"`
	Trend            Trend     `json:"trend"`
	LastUpdated      string    `json:"last_updated"`
	RateLimited      bool      `json:"rate_limited,omitempty"`
	RateLimitMessage string    `json:"rate_limit_message,omitempty"`
}

// Key returns the store key of the record.
func (c *ChartRecord) Key() string {
	return ChartKey(c.Symbol, c.Period)
}

// Clone returns a deep copy so callers can annotate without touching
// the cached value.
func (c *ChartRecord) Clone() *ChartRecord {
	out := *c
	out.Dates = append([]string(nil), c.Dates...)
	out.Prices = append([]float64(nil), c.Prices...)
	return &out
}
