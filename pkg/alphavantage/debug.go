package alphavantage

import (
	"context"
	"encoding/json"

	"github.com/alim08/stockcache/pkg/models"
)

// DebugPayload is the raw provider response with the echoed request.
type DebugPayload struct {
	Symbol  string            `json:"symbol"`
	Period  string            `json:"period"`
	RawData json.RawMessage   `json:"raw_data"`
	APIURL  string            `json:"api_url"`
	Params  map[string]string `json:"params"`
}

// Debug returns the unmodified series payload for period p. The API key is
// replaced in the echoed parameters.
func (c *Client) Debug(ctx context.Context, symbol string, p models.Period) (*DebugPayload, error) {
	params := seriesParams(symbol, p)
	params.Set("timestamp", c.cacheBuster())

	body, err := c.get(ctx, params, c.cfg.SeriesTimeout)
	if err != nil {
		return nil, err
	}

	echoed := make(map[string]string, len(params)+1)
	for k := range params {
		echoed[k] = params.Get(k)
	}
	echoed["apikey"] = redacted

	return &DebugPayload{
		Symbol:  symbol,
		Period:  p.Token,
		RawData: json.RawMessage(body),
		APIURL:  c.cfg.BaseURL,
		Params:  echoed,
	}, nil
}
