package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alim08/stockcache/pkg/config"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/redisclient"
	"go.uber.org/zap"
)

func main() {
	// 1. Initialize structured logging
	if err := logger.Init(); err != nil {
		panic("logger init error: " + err.Error())
	}
	defer logger.Log.Sync()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal("config load error", zap.Error(err))
	}
	if cfg.StoreBackend != config.BackendRedis {
		logger.Log.Fatal("quote updates are only published by the redis backend",
			zap.String("store_backend", cfg.StoreBackend))
	}

	// 3. Connect to Redis
	rdb, err := redisclient.New(cfg.RedisURL, cfg.RedisKeyPrefix)
	if err != nil {
		logger.Log.Fatal("redis connect error", zap.Error(err))
	}
	defer rdb.Close()

	// 4. Tail the updates channel
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := rdb.Subscribe(ctx, cfg.QuoteUpdatesChannel)
	defer pubsub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runQuoteFeed(ctx, pubsub.Channel(), os.Stdout)
	}()

	// 5. Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Log.Info("shutdown signal received, exiting")
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}
