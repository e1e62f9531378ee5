package stockcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/alim08/stockcache/pkg/store"
	"github.com/alim08/stockcache/pkg/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultPopularFetchLimit = 3

var DefaultPopularSymbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "NFLX"}

// QuoteConfig tunes the quote core.
type QuoteConfig struct {
	TTL            time.Duration
	PopularSymbols []string
	// PopularFetchLimit caps provider calls per popular-quotes request.
	PopularFetchLimit int
	// UpdatesChannel is where refreshed quotes are published when a
	// Publisher is set.
	UpdatesChannel string
	Publisher      Publisher
}

// QuoteService serves single quotes with a short TTL. Quotes are never
// served stale.
type QuoteService struct {
	provider Provider
	store    store.Store
	cfg      QuoteConfig
	now      func() time.Time
}

// NewQuoteService wires the quote core. Zero config fields take defaults.
func NewQuoteService(p Provider, st store.Store, cfg QuoteConfig) *QuoteService {
	if cfg.TTL <= 0 {
		cfg.TTL = QuoteTTL
	}
	if cfg.PopularSymbols == nil {
		cfg.PopularSymbols = DefaultPopularSymbols
	}
	if cfg.PopularFetchLimit <= 0 {
		cfg.PopularFetchLimit = DefaultPopularFetchLimit
	}
	return &QuoteService{provider: p, store: st, cfg: cfg, now: time.Now}
}

// GetQuote returns a fresh cached quote or refreshes it from the provider.
func (s *QuoteService) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol, err := prepare(s.provider, symbol)
	if err != nil {
		return nil, err
	}
	if q, ok := s.cachedFresh(ctx, symbol); ok {
		countCache("quote", "hit")
		logger.Log.Debug("returning cached quote", zap.String("symbol", symbol))
		return q, nil
	}
	countCache("quote", "miss")
	return s.refresh(ctx, symbol)
}

func (s *QuoteService) cachedFresh(ctx context.Context, symbol string) (*models.Quote, bool) {
	var rec models.QuoteRecord
	if !load(ctx, s.store, store.CollectionQuotes, symbol, &rec) {
		return nil, false
	}
	if !models.IsFresh(rec.LastUpdated, s.now(), s.cfg.TTL) {
		return nil, false
	}
	return &models.Quote{QuoteRecord: rec, Source: models.SourceCache}, true
}

// refresh fetches from the provider and overwrites the cached record.
func (s *QuoteService) refresh(ctx context.Context, symbol string) (*models.Quote, error) {
	pq, err := s.provider.GlobalQuote(ctx, symbol)
	if err != nil {
		logger.Log.Warn("quote refresh failed", zap.String("symbol", symbol), zap.Error(err))
		return nil, err
	}

	rec := models.QuoteRecord{
		Symbol:        symbol,
		Price:         pq.Price,
		Change:        pq.Change,
		PercentChange: pq.PercentChange,
		LastUpdated:   models.FormatTimestamp(s.now()),
	}
	save(ctx, s.store, store.CollectionQuotes, symbol, rec)

	q := &models.Quote{QuoteRecord: rec, Source: models.SourceAPI}
	s.publish(ctx, q)
	return q, nil
}

func (s *QuoteService) publish(ctx context.Context, q *models.Quote) {
	if s.cfg.Publisher == nil || s.cfg.UpdatesChannel == "" {
		return
	}
	msg, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := s.cfg.Publisher.Publish(ctx, s.cfg.UpdatesChannel, msg); err != nil {
		logger.Log.Warn("quote update publish failed",
			zap.String("symbol", q.Symbol),
			zap.String("channel", s.cfg.UpdatesChannel),
			zap.Error(err),
		)
	}
}

// GetPopularQuotes serves the configured candidates. Fresh cache entries are
// always returned; at most PopularFetchLimit of the rest are refreshed
// concurrently. Symbols that fail or exceed the cap are omitted, and the
// result keeps candidate order.
func (s *QuoteService) GetPopularQuotes(ctx context.Context) ([]models.Quote, error) {
	if !s.provider.HasCredentials() {
		return nil, errMissingKey
	}

	symbols := make([]string, 0, len(s.cfg.PopularSymbols))
	for _, sym := range s.cfg.PopularSymbols {
		if sym = validation.NormalizeSymbol(sym); sym != "" {
			symbols = append(symbols, sym)
		}
	}

	results := make([]*models.Quote, len(symbols))
	var pending []int
	for i, sym := range symbols {
		if q, ok := s.cachedFresh(ctx, sym); ok {
			countCache("quote", "hit")
			results[i] = q
			continue
		}
		if len(pending) < s.cfg.PopularFetchLimit {
			pending = append(pending, i)
		}
	}

	var g errgroup.Group
	for _, i := range pending {
		i := i
		g.Go(func() error {
			countCache("quote", "miss")
			q, err := s.refresh(ctx, symbols[i])
			if err != nil {
				// one symbol must not sink the batch
				return nil
			}
			results[i] = q
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	logger.Log.Info("served popular quotes",
		zap.Int("candidates", len(symbols)),
		zap.Int("fetched", len(pending)),
		zap.Int("returned", len(out)),
	)
	return out, nil
}
