// Package stockcache holds the quote and chart cache cores. Each decides per
// request whether to serve from the persistent store, refresh from the
// provider, or fall back to a stale record.
package stockcache

import (
	"context"
	"errors"
	"time"

	"github.com/alim08/stockcache/pkg/alphavantage"
	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/metrics"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/alim08/stockcache/pkg/store"
	"github.com/alim08/stockcache/pkg/validation"
	"go.uber.org/zap"
)

const (
	QuoteTTL = 5 * time.Minute
	ChartTTL = 30 * time.Minute
)

// Provider is the upstream market-data source.
type Provider interface {
	HasCredentials() bool
	GlobalQuote(ctx context.Context, symbol string) (*alphavantage.Quote, error)
	TimeSeries(ctx context.Context, symbol string, p models.Period) (*alphavantage.Series, error)
	Debug(ctx context.Context, symbol string, p models.Period) (*alphavantage.DebugPayload, error)
}

// Publisher announces refreshed quotes. The Redis store implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg interface{}) error
}

var errMissingKey = apperr.New(apperr.KindConfiguration, "Alpha Vantage API key is missing")

// prepare runs the checks every operation shares before touching the store.
func prepare(p Provider, symbol string) (string, error) {
	if !p.HasCredentials() {
		return "", errMissingKey
	}
	symbol = validation.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", apperr.New(apperr.KindInvalid, "Stock symbol is required")
	}
	return symbol, nil
}

// load reads a cached document. A store failure is logged and reported as
// a miss so a degraded store never fails a request the provider can serve.
func load(ctx context.Context, st store.Store, collection, key string, v interface{}) bool {
	err := store.GetJSON(ctx, st, collection, key, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrNotFound):
		return false
	default:
		logger.Log.Warn("cache read failed, treating as miss",
			zap.String("collection", collection),
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return false
	}
}

// save persists a refreshed document. Failures are logged only.
func save(ctx context.Context, st store.Store, collection, key string, v interface{}) {
	if err := store.PutJSON(ctx, st, collection, key, v); err != nil {
		logger.Log.Error("cache write failed",
			zap.String("collection", collection),
			zap.String("cache_key", key),
			zap.Error(err),
		)
	}
}

func countCache(cache, result string) {
	metrics.CacheRequests.WithLabelValues(cache, result).Inc()
}
