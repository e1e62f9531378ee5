package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("PORT", "")
	t.Setenv("POPULAR_SYMBOLS", "")
	t.Setenv("ALPHA_VANTAGE_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" || cfg.StoreBackend != BackendRedis {
		t.Errorf("store = %s %q", cfg.StoreBackend, cfg.RedisURL)
	}
	if cfg.HTTPPort != 8000 {
		t.Errorf("HTTPPort = %d; want 8000", cfg.HTTPPort)
	}
	wantPopular := []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "NFLX"}
	if !reflect.DeepEqual(cfg.PopularSymbols, wantPopular) {
		t.Errorf("PopularSymbols = %v", cfg.PopularSymbols)
	}
	if cfg.PopularFetchLimit != 3 {
		t.Errorf("PopularFetchLimit = %d; want 3", cfg.PopularFetchLimit)
	}

	p := cfg.Provider()
	if p.Timeout != 10*time.Second || p.MaxAttempts != 3 || p.BackoffBase != 300*time.Millisecond {
		t.Errorf("provider config = %+v", p)
	}
	if p.APIKey != "" {
		t.Error("missing key should load as empty, not fail")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("PORT", "9090")
	t.Setenv("POPULAR_SYMBOLS", " ibm, ,orcl ")
	t.Setenv("POPULAR_FETCH_LIMIT", "5")
	t.Setenv("UPSTREAM_TIMEOUT", "2s")
	t.Setenv("AUTH_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.StoreBackend != BackendMongo || cfg.HTTPPort != 9090 || !cfg.AuthEnabled {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.PopularSymbols, []string{"ibm", "orcl"}) || cfg.PopularFetchLimit != 5 {
		t.Errorf("popular = %v/%d", cfg.PopularSymbols, cfg.PopularFetchLimit)
	}
	if cfg.Provider().Timeout != 2*time.Second {
		t.Errorf("timeout = %v", cfg.Provider().Timeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing redis", map[string]string{"STORE_BACKEND": "redis", "REDIS_URL": ""}},
		{"missing mongo", map[string]string{"STORE_BACKEND": "mongo", "MONGO_URI": ""}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "cassandra"}},
		{"bad port", map[string]string{"STORE_BACKEND": "memory", "PORT": "http"}},
		{"zero attempts", map[string]string{"STORE_BACKEND": "memory", "UPSTREAM_MAX_ATTEMPTS": "0"}},
		{"zero fetch limit", map[string]string{"STORE_BACKEND": "memory", "POPULAR_FETCH_LIMIT": "0"}},
		{"bad auth flag", map[string]string{"STORE_BACKEND": "memory", "AUTH_ENABLED": "maybe"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	in := " a , ,b ,c"
	got := splitAndTrim(in, ",")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitAndTrim = %v; want %v", got, want)
	}
}
