package alphavantage

import (
	"errors"
	"strings"

	"github.com/alim08/stockcache/pkg/apperr"
	"github.com/alim08/stockcache/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// RateLimitError carries the provider's throttling notice.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return "provider rate limit: " + e.Message
}

// RateLimitMessage returns the provider's notice when err is a rate limit.
func RateLimitMessage(err error) (string, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Message, true
	}
	return "", false
}

// checkNotices classifies the provider's out-of-band payloads. A rate limit
// wins over an error message.
func checkNotices(root map[string]gjson.Result, notFound error) error {
	if info, ok := root["Information"]; ok && strings.Contains(strings.ToLower(info.String()), "rate limit") {
		return rateLimited(info.String())
	}
	if note, ok := root["Note"]; ok {
		return rateLimited(note.String())
	}
	if msg, ok := root["Error Message"]; ok {
		logger.Log.Warn("provider error message", zap.String("message", msg.String()))
		return notFound
	}
	return nil
}

func rateLimited(msg string) error {
	logger.Log.Warn("provider rate limit reached", zap.String("message", msg))
	return apperr.Wrap(apperr.KindRateLimited, &RateLimitError{Message: msg},
		"API rate limit reached. Please try again later.")
}

// parseNumber parses a provider decimal string exactly before converting.
func parseNumber(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func dataFormat(symbol, field string, err error) error {
	logger.Log.Error("non-numeric provider field",
		zap.String("symbol", symbol),
		zap.String("field", field),
		zap.Error(err),
	)
	return apperr.Wrap(apperr.KindDataFormat, err, "Invalid response from provider")
}
