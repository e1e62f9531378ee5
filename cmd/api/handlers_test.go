package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alim08/stockcache/pkg/alphavantage"
	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/auth"
	"github.com/alim08/stockcache/pkg/database"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/alim08/stockcache/pkg/stockcache"
	"github.com/alim08/stockcache/pkg/store"
	"github.com/alim08/stockcache/pkg/watchlist"
)

const globalQuote = `{"Global Quote": {
	"01. symbol": "AAPL",
	"05. price": "181.99",
	"09. change": "1.25",
	"10. change percent": "0.69%"
}}`

const dailySeries = `{
	"Meta Data": {"2. Symbol": "AAPL", "5. Time Zone": "US/Eastern"},
	"Time Series (Daily)": {
		"2023-07-31": {"4. close": "196.45"},
		"2023-08-01": {"4. close": "195.61"},
		"2023-08-02": {"4. close": "192.58"},
		"2023-08-03": {"4. close": "191.17"},
		"2023-08-04": {"4. close": "181.99"}
	}
}`

// testEnv is an API router over a memory store and a fake provider.
type testEnv struct {
	router   http.Handler
	store    store.Store
	upstream *int32
}

func newTestEnv(t *testing.T, apiKey string, protect func(http.Handler) http.Handler) *testEnv {
	t.Helper()

	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("function") {
		case models.FunctionQuote:
			if r.URL.Query().Get("symbol") == "NOPE" {
				_, _ = w.Write([]byte(`{"Error Message": "Invalid API call."}`))
				return
			}
			_, _ = w.Write([]byte(globalQuote))
		case models.FunctionDaily:
			_, _ = w.Write([]byte(dailySeries))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := alphavantage.DefaultConfig()
	cfg.BaseURL = upstream.URL
	cfg.APIKey = apiKey
	cfg.BackoffBase = time.Millisecond
	provider := alphavantage.New(cfg)

	st := store.NewMemoryStore()
	srv := &Server{
		store:     st,
		quotes:    stockcache.NewQuoteService(provider, st, stockcache.QuoteConfig{PopularSymbols: []string{"AAPL", "MSFT"}}),
		charts:    stockcache.NewChartService(provider, st, stockcache.ChartTTL),
		watchlist: watchlist.New(st),
	}
	return &testEnv{router: newRouter(srv, protect), store: st, upstream: &hits}
}

func (e *testEnv) do(t *testing.T, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, "key", nil)

	rec := env.do(t, http.MethodGet, "/", nil)
	var msg MessageResponse
	decode(t, rec, &msg)
	if rec.Code != http.StatusOK || msg.Message != "Welcome to ASMP Backend" {
		t.Errorf("GET / = %d %+v", rec.Code, msg)
	}

	rec = env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected a generated request id")
	}
}

// schemaStore is a memory store that also reports migration status.
type schemaStore struct {
	*store.MemoryStore
	status []database.MigrationStatus
	err    error
}

func (s schemaStore) GetMigrationStatus(context.Context) ([]database.MigrationStatus, error) {
	return s.status, s.err
}

func TestHealthReportsMigrations(t *testing.T) {
	applied := database.MigrationStatus{Version: 1, Applied: true, Description: "Create documents table"}
	pending := database.MigrationStatus{Version: 2, Description: "next"}

	tests := []struct {
		name       string
		st         schemaStore
		wantCode   int
		wantStatus string
	}{
		{"all applied", schemaStore{status: []database.MigrationStatus{applied}}, http.StatusOK, "healthy"},
		{"pending", schemaStore{status: []database.MigrationStatus{applied, pending}}, http.StatusServiceUnavailable, "migrations pending"},
		{"query fails", schemaStore{err: errors.New("relation \"migrations\" does not exist")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.st.MemoryStore = store.NewMemoryStore()
			router := newRouter(&Server{store: tt.st}, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
			var body struct {
				Status     string                     `json:"status"`
				Migrations []database.MigrationStatus `json:"migrations"`
			}
			decode(t, rec, &body)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q; want %q", body.Status, tt.wantStatus)
			}
			if tt.st.err == nil && len(body.Migrations) != len(tt.st.status) {
				t.Errorf("migrations = %+v", body.Migrations)
			}
		})
	}
}

func TestHealthWithoutSchemaOmitsMigrations(t *testing.T) {
	env := newTestEnv(t, "key", nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if strings.Contains(rec.Body.String(), "migrations") {
		t.Errorf("memory store health should not report migrations: %s", rec.Body)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t, "key", nil)
	rec := env.do(t, http.MethodGet, "/", http.Header{requestIDHeader: {"abc-123"}})
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("X-Request-ID = %q; want abc-123", got)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	env := newTestEnv(t, "key", nil)

	rec := env.do(t, http.MethodGet, "/stock/aapl", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var q models.Quote
	decode(t, rec, &q)
	if q.Symbol != "AAPL" || q.Price != 181.99 || q.Source != models.SourceAPI {
		t.Errorf("unexpected quote %+v", q)
	}

	rec = env.do(t, http.MethodGet, "/stock/AAPL", nil)
	decode(t, rec, &q)
	if q.Source != models.SourceCache {
		t.Errorf("second call source = %q; want cache", q.Source)
	}
	if n := atomic.LoadInt32(env.upstream); n != 1 {
		t.Errorf("upstream hits = %d; want 1", n)
	}
}

func TestQuoteErrors(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		path     string
		wantCode int
		wantKind apperr.Kind
	}{
		{"unknown symbol", "key", "/stock/NOPE", http.StatusNotFound, apperr.KindNotFound},
		{"missing key", "", "/stock/AAPL", http.StatusInternalServerError, apperr.KindConfiguration},
		{"missing key chart", "", "/chart/AAPL", http.StatusInternalServerError, apperr.KindConfiguration},
		{"missing key debug", "", "/chart/debug/AAPL", http.StatusInternalServerError, apperr.KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.apiKey, nil)
			rec := env.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
			var body ErrorResponse
			decode(t, rec, &body)
			if body.Kind != tt.wantKind || body.Detail == "" {
				t.Errorf("body = %+v; want kind %s", body, tt.wantKind)
			}
		})
	}
}

func TestPopularRouteIsNotASymbol(t *testing.T) {
	env := newTestEnv(t, "key", nil)

	rec := env.do(t, http.MethodGet, "/stock/ticker/popular", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var quotes []models.Quote
	decode(t, rec, &quotes)
	if len(quotes) != 2 {
		t.Errorf("got %d quotes; want 2", len(quotes))
	}
}

func TestChartEndpoints(t *testing.T) {
	env := newTestEnv(t, "key", nil)

	rec := env.do(t, http.MethodGet, "/chart/aapl?period=1W", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var chart models.ChartRecord
	decode(t, rec, &chart)
	if chart.Symbol != "AAPL" || chart.Period != "1w" {
		t.Errorf("chart identity = %s/%s", chart.Symbol, chart.Period)
	}
	if len(chart.Prices) != 5 || chart.Dates[0] != "2023-07-31" {
		t.Errorf("unexpected window %v %v", chart.Dates, chart.Prices)
	}
	if chart.Trend != models.TrendDown {
		t.Errorf("trend = %q; want down", chart.Trend)
	}

	rec = env.do(t, http.MethodGet, "/chart/debug/AAPL?period=1w", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("debug status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"key"`) {
		t.Error("debug payload leaked the api key")
	}
	var dbg alphavantage.DebugPayload
	decode(t, rec, &dbg)
	if dbg.Params["apikey"] != "REDACTED" {
		t.Errorf("apikey param = %q", dbg.Params["apikey"])
	}
}

func TestWatchlistFlow(t *testing.T) {
	env := newTestEnv(t, "key", nil)

	rec := env.do(t, http.MethodPost, "/watchlist/tsla", nil)
	var msg MessageResponse
	decode(t, rec, &msg)
	if rec.Code != http.StatusCreated || msg.Message != "TSLA added to watchlist" {
		t.Fatalf("POST = %d %+v", rec.Code, msg)
	}
	env.do(t, http.MethodPost, "/watchlist/AAPL", nil)

	rec = env.do(t, http.MethodPost, "/watchlist/TSLA", nil)
	var errBody ErrorResponse
	decode(t, rec, &errBody)
	if rec.Code != http.StatusBadRequest || errBody.Detail != "Stock already in watchlist" {
		t.Errorf("duplicate POST = %d %+v", rec.Code, errBody)
	}

	rec = env.do(t, http.MethodPost, "/watchlist/BRK.B", nil)
	decode(t, rec, &errBody)
	if rec.Code != http.StatusBadRequest || errBody.Detail != "Invalid stock symbol" {
		t.Errorf("invalid POST = %d %+v", rec.Code, errBody)
	}

	rec = env.do(t, http.MethodGet, "/watchlist/", nil)
	var symbols []string
	decode(t, rec, &symbols)
	if strings.Join(symbols, ",") != "TSLA,AAPL" {
		t.Errorf("watchlist = %v; want [TSLA AAPL]", symbols)
	}

	rec = env.do(t, http.MethodDelete, "/watchlist/tsla", nil)
	decode(t, rec, &msg)
	if rec.Code != http.StatusOK || msg.Message != "TSLA removed from watchlist" {
		t.Errorf("DELETE = %d %+v", rec.Code, msg)
	}

	rec = env.do(t, http.MethodDelete, "/watchlist/TSLA", nil)
	decode(t, rec, &errBody)
	if rec.Code != http.StatusNotFound || errBody.Detail != "Stock not found in watchlist" {
		t.Errorf("second DELETE = %d %+v", rec.Code, errBody)
	}
}

func TestWatchlistRequiresTokenWhenProtected(t *testing.T) {
	dir := t.TempDir()
	priv, pub, err := auth.GenerateKeyPair(2048)
	if err != nil {
		t.Fatal(err)
	}
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	if err := auth.SavePrivateKey(priv, privPath); err != nil {
		t.Fatal(err)
	}
	if err := auth.SavePublicKey(pub, pubPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(pubPath); err != nil {
		t.Fatal(err)
	}

	authService, err := auth.NewAuthService(&auth.Config{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		Issuer:         "stockcache",
		Audience:       "stockcache-api",
		Expiration:     time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, "key", authService.AuthMiddleware)

	rec := env.do(t, http.MethodPost, "/watchlist/MSFT", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated POST = %d; want 401", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/watchlist/", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET should stay public, got %d", rec.Code)
	}

	token, err := authService.GenerateToken("alice")
	if err != nil {
		t.Fatal(err)
	}
	rec = env.do(t, http.MethodPost, "/watchlist/MSFT", http.Header{"Authorization": {"Bearer " + token}})
	if rec.Code != http.StatusCreated {
		t.Errorf("authenticated POST = %d body=%s", rec.Code, rec.Body)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, "key", nil)
	rec := env.do(t, http.MethodOptions, "/stock/AAPL", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
