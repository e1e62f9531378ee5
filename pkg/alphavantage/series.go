package alphavantage

import (
	"context"
	"net/url"
	"time"

	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/models"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Point is one close of a time series.
type Point struct {
	Time  time.Time
	Close float64
}

// Series is a parsed, unordered time series. Location is the exchange time
// zone the stamps were read in.
type Series struct {
	Points   []Point
	Location *time.Location
}

var timeZoneKeys = []string{"6. Time Zone", "5. Time Zone"}

func seriesParams(symbol string, p models.Period) url.Values {
	params := url.Values{}
	params.Set("function", p.Function)
	params.Set("symbol", symbol)
	params.Set("outputsize", p.OutputSize)
	if p.Intraday {
		params.Set("interval", p.Interval)
	}
	return params
}

// TimeSeries fetches the raw series backing period p.
func (c *Client) TimeSeries(ctx context.Context, symbol string, p models.Period) (*Series, error) {
	params := seriesParams(symbol, p)
	params.Set("timestamp", c.cacheBuster())

	body, err := c.get(ctx, params, c.cfg.SeriesTimeout)
	if err != nil {
		return nil, err
	}
	return parseSeries(symbol, p, body)
}

func parseSeries(symbol string, p models.Period, body []byte) (*Series, error) {
	root := gjson.ParseBytes(body).Map()
	if err := checkNotices(root, apperr.New(apperr.KindNotFound, "Symbol not found: %s", symbol)); err != nil {
		return nil, err
	}

	raw, ok := root[p.SeriesKey()]
	if !ok || !raw.IsObject() {
		keys := make([]string, 0, len(root))
		for k := range root {
			keys = append(keys, k)
		}
		logger.Log.Error("unexpected provider response format",
			zap.String("symbol", symbol),
			zap.String("expected", p.SeriesKey()),
			zap.Strings("keys", keys),
		)
		return nil, apperr.New(apperr.KindServerError, "Unexpected API response format")
	}

	loc := seriesLocation(root["Meta Data"])
	entries := raw.Map()
	s := &Series{Points: make([]Point, 0, len(entries)), Location: loc}
	for stamp, v := range entries {
		t, err := time.ParseInLocation(p.StampLayout(), stamp, loc)
		if err != nil {
			logger.Log.Warn("skipping invalid date format", zap.String("symbol", symbol), zap.String("stamp", stamp))
			continue
		}
		closeVal, ok := v.Map()["4. close"]
		if !ok {
			return nil, dataFormat(symbol, "4. close", errMissingClose(stamp))
		}
		price, err := parseNumber(closeVal.String())
		if err != nil {
			return nil, dataFormat(symbol, "4. close", err)
		}
		s.Points = append(s.Points, Point{Time: t, Close: price})
	}
	return s, nil
}

type errMissingClose string

func (e errMissingClose) Error() string {
	return "no close value at " + string(e)
}

// seriesLocation loads the exchange zone named in the payload's metadata,
// falling back to UTC.
func seriesLocation(meta gjson.Result) *time.Location {
	fields := meta.Map()
	for _, key := range timeZoneKeys {
		name, ok := fields[key]
		if !ok || name.String() == "" {
			continue
		}
		loc, err := time.LoadLocation(name.String())
		if err != nil {
			logger.Log.Warn("unknown series time zone", zap.String("zone", name.String()), zap.Error(err))
			break
		}
		return loc
	}
	return time.UTC
}
