package alphavantage

import (
	"context"
	"net/url"

	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Quote is a typed GLOBAL_QUOTE result.
type Quote struct {
	Symbol        string
	Price         float64
	Change        float64
	PercentChange string
}

// GlobalQuote fetches the latest quote for symbol.
func (c *Client) GlobalQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("function", models.FunctionQuote)
	params.Set("symbol", symbol)

	body, err := c.get(ctx, params, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return parseGlobalQuote(symbol, body)
}

func parseGlobalQuote(symbol string, body []byte) (*Quote, error) {
	root := gjson.ParseBytes(body).Map()
	notFound := apperr.New(apperr.KindNotFound, "Stock symbol '%s' not found or invalid", symbol)

	if err := checkNotices(root, notFound); err != nil {
		return nil, err
	}

	gq, ok := root["Global Quote"]
	if !ok || !gq.IsObject() || len(gq.Map()) == 0 {
		logger.Log.Warn("quote payload has no Global Quote", zap.String("symbol", symbol))
		return nil, notFound
	}
	fields := gq.Map()

	price, ok := fields["05. price"]
	if !ok {
		return nil, notFound
	}

	q := &Quote{Symbol: symbol, PercentChange: "0%"}
	if s, ok := fields["01. symbol"]; ok && s.String() != "" {
		q.Symbol = s.String()
	}

	var err error
	if q.Price, err = parseNumber(price.String()); err != nil {
		return nil, dataFormat(symbol, "05. price", err)
	}
	if change, ok := fields["09. change"]; ok {
		if q.Change, err = parseNumber(change.String()); err != nil {
			return nil, dataFormat(symbol, "09. change", err)
		}
	}
	if pct, ok := fields["10. change percent"]; ok {
		q.PercentChange = pct.String()
	}
	return q, nil
}
