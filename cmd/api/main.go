package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// provider time zones must resolve on minimal images
	_ "time/tzdata"

	"github.com/alim08/stockcache/pkg/alphavantage"
	"github.com/alim08/stockcache/pkg/auth"
	"github.com/alim08/stockcache/pkg/config"
	"github.com/alim08/stockcache/pkg/database"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/mongostore"
	"github.com/alim08/stockcache/pkg/redisclient"
	"github.com/alim08/stockcache/pkg/stockcache"
	"github.com/alim08/stockcache/pkg/store"
	"github.com/alim08/stockcache/pkg/watchlist"
	"go.uber.org/zap"
)

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	log := logger.Log
	defer log.Sync()

	log.Info("starting stockcache API server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	log.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("store_backend", cfg.StoreBackend))

	if cfg.APIKey == "" {
		log.Error("ALPHA_VANTAGE_API_KEY is not set; quote and chart requests will fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, publisher, err := newStore(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal("failed to open persistent store", zap.Error(err))
	}
	defer st.Close()

	provider := alphavantage.New(cfg.Provider())

	quoteCfg := stockcache.QuoteConfig{
		PopularSymbols:    cfg.PopularSymbols,
		PopularFetchLimit: cfg.PopularFetchLimit,
		UpdatesChannel:    cfg.QuoteUpdatesChannel,
	}
	if publisher != nil {
		quoteCfg.Publisher = publisher
	}

	srv := &Server{
		store:     st,
		quotes:    stockcache.NewQuoteService(provider, st, quoteCfg),
		charts:    stockcache.NewChartService(provider, st, stockcache.ChartTTL),
		watchlist: watchlist.New(st),
	}

	var protect func(http.Handler) http.Handler
	if cfg.AuthEnabled {
		authService, err := auth.NewAuthService(auth.NewConfig())
		if err != nil {
			log.Fatal("failed to initialize authentication service", zap.Error(err))
		}
		protect = authService.AuthMiddleware
		log.Info("watchlist mutations require a bearer token")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      newRouter(srv, protect),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// newStore opens the configured backend. The Redis backend doubles as the
// quote update publisher; other backends return a nil publisher.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, *redisclient.Client, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rc, err := redisclient.New(cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return rc, rc, nil

	case config.BackendMongo:
		ms, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return ms, nil, nil

	case config.BackendPostgres:
		db, err := database.New(database.NewConfig())
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return db, nil, nil

	case config.BackendMemory:
		logger.Log.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
