package stockcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alim08/stockcache/pkg/alphavantage"
	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/alim08/stockcache/pkg/store"
)

var testNow = time.Date(2023, 8, 5, 15, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu          sync.Mutex
	noKey       bool
	quotes      map[string]*alphavantage.Quote
	quoteErr    map[string]error
	series      *alphavantage.Series
	seriesErr   error
	quoteCalls  []string
	seriesCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		quotes:   make(map[string]*alphavantage.Quote),
		quoteErr: make(map[string]error),
	}
}

func (f *fakeProvider) HasCredentials() bool { return !f.noKey }

func (f *fakeProvider) GlobalQuote(_ context.Context, symbol string) (*alphavantage.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls = append(f.quoteCalls, symbol)
	if err := f.quoteErr[symbol]; err != nil {
		return nil, err
	}
	if q, ok := f.quotes[symbol]; ok {
		return q, nil
	}
	return &alphavantage.Quote{Symbol: symbol, Price: 100, Change: 1.5, PercentChange: "1.5%"}, nil
}

func (f *fakeProvider) TimeSeries(context.Context, string, models.Period) (*alphavantage.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seriesCalls++
	if f.seriesErr != nil {
		return nil, f.seriesErr
	}
	return f.series, nil
}

func (f *fakeProvider) Debug(_ context.Context, symbol string, p models.Period) (*alphavantage.DebugPayload, error) {
	return &alphavantage.DebugPayload{Symbol: symbol, Period: p.Token, Params: map[string]string{"apikey": "REDACTED"}}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.quoteCalls)
}

func rateLimitErr(msg string) error {
	return apperr.Wrap(apperr.KindRateLimited, &alphavantage.RateLimitError{Message: msg},
		"API rate limit reached. Please try again later.")
}

// brokenStore fails every read and write.
type brokenStore struct{ store.Store }

var errStoreDown = errors.New("store unavailable")

func (brokenStore) Get(context.Context, string, string) ([]byte, error)  { return nil, errStoreDown }
func (brokenStore) Upsert(context.Context, string, string, []byte) error { return errStoreDown }

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	msgs     []string
}

func (p *fakePublisher) Publish(_ context.Context, channel string, msg interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	if b, ok := msg.([]byte); ok {
		p.msgs = append(p.msgs, string(b))
	}
	return nil
}
