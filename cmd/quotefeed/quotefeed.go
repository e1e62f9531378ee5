package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/metrics"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// runQuoteFeed prints one line per refreshed quote until ctx is done or
// the subscription closes.
func runQuoteFeed(ctx context.Context, msgs <-chan *redis.Message, out io.Writer) {
	logger.Log.Info("quote feed started")

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("runQuoteFeed: context cancelled")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Log.Warn("quote updates subscription closed")
				return
			}

			var q models.Quote
			if err := json.Unmarshal([]byte(msg.Payload), &q); err != nil || q.Symbol == "" {
				logger.Log.Warn("invalid quote update", zap.String("channel", msg.Channel), zap.Error(err))
				metrics.QuoteUpdates.WithLabelValues("invalid").Inc()
				continue
			}
			metrics.QuoteUpdates.WithLabelValues("received").Inc()
			fmt.Fprintln(out, formatQuote(q))
		}
	}
}

func formatQuote(q models.Quote) string {
	return fmt.Sprintf("%-6s %10.2f %+8.2f %8s  %s", q.Symbol, q.Price, q.Change, q.PercentChange, q.LastUpdated)
}
