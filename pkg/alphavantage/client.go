// Package alphavantage is the market-data provider client. It owns the
// retrying HTTP transport and converts the provider's loosely keyed JSON
// into typed quotes and series once, at the boundary.
package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://www.alphavantage.co/query"

	redacted = "REDACTED"
)

var errInvalidJSON = errors.New("provider returned invalid JSON")

// Config controls the provider transport.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single quote attempt; SeriesTimeout bounds a single
	// time series attempt (full outputs are large).
	Timeout         time.Duration
	SeriesTimeout   time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	RetryableStatus []int
}

// DefaultConfig returns the production transport settings without a key.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Timeout:         10 * time.Second,
		SeriesTimeout:   30 * time.Second,
		MaxAttempts:     3,
		BackoffBase:     300 * time.Millisecond,
		RetryableStatus: []int{500, 502, 503, 504},
	}
}

// Client talks to the provider. It is safe for concurrent use.
type Client struct {
	cfg       Config
	http      *http.Client
	retryable map[int]bool
	now       func() time.Time
}

// New builds a Client with its own pooled transport.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	retryable := make(map[int]bool, len(cfg.RetryableStatus))
	for _, code := range cfg.RetryableStatus {
		retryable[code] = true
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryable: retryable,
		now:       time.Now,
	}
}

// HasCredentials reports whether an API key is configured.
func (c *Client) HasCredentials() bool {
	return c.cfg.APIKey != ""
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d", e.code)
}

// get issues a GET with the retry policy and returns the validated JSON
// body. Only transport errors and retryable statuses are retried.
func (c *Client) get(ctx context.Context, params url.Values, timeout time.Duration) ([]byte, error) {
	function := params.Get("function")
	query := cloneValues(params)
	query.Set("apikey", c.cfg.APIKey)
	target := c.cfg.BaseURL + "?" + query.Encode()

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(actx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues(function, "transport_error").Inc()
			// url.Error echoes the request URL, which carries the key.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				return uerr.Err
			}
			return err
		}
		defer resp.Body.Close()
		metrics.UpstreamRequests.WithLabelValues(function, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &statusError{code: resp.StatusCode}
			if c.retryable[resp.StatusCode] {
				return serr
			}
			return backoff.Permanent(serr)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if !gjson.ValidBytes(raw) {
			return backoff.Permanent(errInvalidJSON)
		}
		body = raw
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	notify := func(err error, wait time.Duration) {
		metrics.UpstreamRetries.Inc()
		logger.Log.Warn("provider request failed, retrying",
			zap.String("function", function),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	start := time.Now()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	metrics.UpstreamLatency.WithLabelValues(function).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Log.Error("provider request failed",
			zap.String("function", function),
			zap.String("url", c.cfg.BaseURL+"?"+redactedQuery(params)),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		if errors.Is(err, errInvalidJSON) {
			return nil, apperr.Wrap(apperr.KindServerError, err, "Invalid response from provider")
		}
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, err, "Error fetching data from provider")
	}

	logger.Log.Debug("provider request succeeded",
		zap.String("function", function),
		zap.Int("attempts", attempt),
		zap.Duration("duration", time.Since(start)),
	)
	return body, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func redactedQuery(params url.Values) string {
	q := cloneValues(params)
	q.Set("apikey", redacted)
	return q.Encode()
}

// cacheBuster renders the current instant as fractional epoch seconds.
func (c *Client) cacheBuster() string {
	now := c.now()
	return strconv.FormatFloat(float64(now.UnixNano())/1e9, 'f', 6, 64)
}
