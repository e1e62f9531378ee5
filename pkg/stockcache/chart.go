package stockcache

import (
	"context"
	"sort"
	"time"

	"github.com/alim08/stockcache/pkg/alphavantage"
	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/alim08/stockcache/pkg/store"
	"go.uber.org/zap"
)

// ChartService serves windowed price series with a long TTL. When the
// provider fails and a record exists for the key, the record is served
// stale rather than failing the caller.
type ChartService struct {
	provider Provider
	store    store.Store
	ttl      time.Duration
	now      func() time.Time
}

// NewChartService wires the chart core. A non-positive ttl means ChartTTL.
func NewChartService(p Provider, st store.Store, ttl time.Duration) *ChartService {
	if ttl <= 0 {
		ttl = ChartTTL
	}
	return &ChartService{provider: p, store: st, ttl: ttl, now: time.Now}
}

// GetChart returns the chart for symbol over the period token. Unknown
// tokens resolve to the default period.
func (s *ChartService) GetChart(ctx context.Context, symbol, period string) (*models.ChartRecord, error) {
	symbol, err := prepare(s.provider, symbol)
	if err != nil {
		return nil, err
	}
	p := models.LookupPeriod(period)
	key := models.ChartKey(symbol, p.Token)
	log := logger.Log.With(zap.String("symbol", symbol), zap.String("period", p.Token), zap.String("cache_key", key))

	var cached *models.ChartRecord
	var rec models.ChartRecord
	if load(ctx, s.store, store.CollectionCharts, key, &rec) {
		cached = &rec
		if models.IsFresh(rec.LastUpdated, s.now(), s.ttl) {
			countCache("chart", "hit")
			log.Debug("returning cached chart")
			return cached.Clone(), nil
		}
	}
	countCache("chart", "miss")

	series, err := s.provider.TimeSeries(ctx, symbol, p)
	if err != nil {
		return s.fallback(log, cached, err)
	}

	now := s.now()
	chart, err := buildChart(symbol, p, series, now)
	if err != nil {
		return s.fallback(log, cached, err)
	}
	chart.LastUpdated = models.FormatTimestamp(now)
	save(ctx, s.store, store.CollectionCharts, key, chart)

	log.Info("chart refreshed",
		zap.Int("points", len(chart.Prices)),
		zap.String("trend", string(chart.Trend)),
	)
	return chart, nil
}

// fallback resolves a failed refresh. Any provider-side failure serves the
// cached record when one exists; only rate limits are annotated, and the
// annotation is never persisted.
func (s *ChartService) fallback(log *zap.Logger, cached *models.ChartRecord, err error) (*models.ChartRecord, error) {
	if cached == nil {
		log.Warn("chart refresh failed with no cached record", zap.Error(err))
		return nil, err
	}

	out := cached.Clone()
	out.RateLimited = false
	out.RateLimitMessage = ""
	if msg, ok := alphavantage.RateLimitMessage(err); ok {
		countCache("chart", "rate_limited")
		log.Info("serving stale chart due to rate limit", zap.String("message", msg))
		out.RateLimited = true
		out.RateLimitMessage = msg
		return out, nil
	}

	countCache("chart", "stale")
	log.Warn("serving stale chart after refresh failure",
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err),
	)
	return out, nil
}

// Debug returns the raw provider payload for symbol and period. It never
// touches the cache.
func (s *ChartService) Debug(ctx context.Context, symbol, period string) (*alphavantage.DebugPayload, error) {
	symbol, err := prepare(s.provider, symbol)
	if err != nil {
		return nil, err
	}
	return s.provider.Debug(ctx, symbol, models.LookupPeriod(period))
}

// buildChart filters future points, sorts, windows and labels a series.
// The returned record has no LastUpdated.
func buildChart(symbol string, p models.Period, series *alphavantage.Series, now time.Time) (*models.ChartRecord, error) {
	points := make([]alphavantage.Point, 0, len(series.Points))
	for _, pt := range series.Points {
		if !pt.Time.After(now) {
			points = append(points, pt)
		}
	}
	if dropped := len(series.Points) - len(points); dropped > 0 {
		logger.Log.Info("filtered future-dated points", zap.String("symbol", symbol), zap.Int("dropped", dropped))
	}
	if len(points) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "No valid historical data available for %s", symbol)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })

	loc := series.Location
	if loc == nil {
		loc = time.UTC
	}
	if p.Intraday {
		points = tradingDay(points, loc)
	} else if len(points) > p.Window {
		points = points[len(points)-p.Window:]
	}

	chart := &models.ChartRecord{
		Symbol: symbol,
		Period: p.Token,
		Dates:  make([]string, len(points)),
		Prices: make([]float64, len(points)),
	}
	for i, pt := range points {
		chart.Dates[i] = pt.Time.In(loc).Format(p.LabelLayout)
		chart.Prices[i] = pt.Close
	}
	chart.Trend = models.ComputeTrend(chart.Prices)
	return chart, nil
}

// tradingDay keeps today's points in the exchange zone, or the most recent
// day's points when today has none. points must be sorted, non-empty and
// not after now, so the last point always falls on the day to keep.
func tradingDay(points []alphavantage.Point, loc *time.Location) []alphavantage.Point {
	day := func(t time.Time) string { return t.In(loc).Format("2006-01-02") }
	target := day(points[len(points)-1].Time)

	out := make([]alphavantage.Point, 0, 80)
	for _, pt := range points {
		if day(pt.Time) == target {
			out = append(out, pt)
		}
	}
	return out
}
