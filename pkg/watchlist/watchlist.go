// Package watchlist keeps the persisted set of watched symbols.
package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/alim08/stockcache/pkg/store"
	"github.com/alim08/stockcache/pkg/validation"
	"go.uber.org/zap"
)

type Service struct {
	store store.Store
	now   func() time.Time
}

func New(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// List returns watched symbols in the order they were added.
func (s *Service) List(ctx context.Context) ([]string, error) {
	docs, err := s.store.List(ctx, store.CollectionWatchlist)
	if err != nil {
		return nil, storeFailure("list", err)
	}

	type added struct {
		symbol string
		at     time.Time
	}
	entries := make([]added, 0, len(docs))
	for _, doc := range docs {
		var e models.WatchlistEntry
		if err := json.Unmarshal(doc, &e); err != nil {
			logger.Log.Warn("skipping undecodable watchlist entry", zap.Error(err))
			continue
		}
		// entries without a stamp sort first
		at, _ := models.ParseTimestamp(e.AddedAt)
		entries = append(entries, added{symbol: e.Symbol, at: at})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.Before(entries[j].at)
		}
		return entries[i].symbol < entries[j].symbol
	})

	symbols := make([]string, len(entries))
	for i, e := range entries {
		symbols[i] = e.symbol
	}
	return symbols, nil
}

// Add normalizes and stores symbol, returning the stored form.
func (s *Service) Add(ctx context.Context, symbol string) (string, error) {
	entry := models.WatchlistEntry{
		Symbol:  validation.NormalizeSymbol(symbol),
		AddedAt: models.FormatTimestamp(s.now()),
	}
	if errs := validation.ValidateStruct(entry); len(errs) > 0 {
		return "", apperr.Wrap(apperr.KindInvalid, errs, "Invalid stock symbol")
	}

	err := store.InsertJSON(ctx, s.store, store.CollectionWatchlist, entry.Symbol, entry)
	switch {
	case errors.Is(err, store.ErrExists):
		return "", apperr.New(apperr.KindInvalid, "Stock already in watchlist")
	case err != nil:
		return "", storeFailure("insert", err)
	}
	logger.Log.Info("watchlist symbol added", zap.String("symbol", entry.Symbol))
	return entry.Symbol, nil
}

// Remove deletes symbol, returning the normalized form.
func (s *Service) Remove(ctx context.Context, symbol string) (string, error) {
	symbol = validation.NormalizeSymbol(symbol)
	err := s.store.Delete(ctx, store.CollectionWatchlist, symbol)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", apperr.New(apperr.KindNotFound, "Stock not found in watchlist")
	case err != nil:
		return "", storeFailure("delete", err)
	}
	logger.Log.Info("watchlist symbol removed", zap.String("symbol", symbol))
	return symbol, nil
}

func storeFailure(op string, err error) error {
	logger.Log.Error("watchlist store failure", zap.String("operation", op), zap.Error(err))
	return apperr.Wrap(apperr.KindServerError, err, "Watchlist storage error")
}
