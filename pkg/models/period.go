package models

import "strings"

// Period describes how a chart period is queried upstream and windowed.
type Period struct {
	Token      string
	Function   string
	Interval   string
	OutputSize string
	// Window is the number of trailing points kept. Intraday periods keep a
	// single trading day instead.
	Window      int
	Intraday    bool
	LabelLayout string
}

const (
	FunctionDaily    = "TIME_SERIES_DAILY"
	FunctionIntraday = "TIME_SERIES_INTRADAY"
	FunctionQuote    = "GLOBAL_QUOTE"

	DefaultPeriod = "1m"

	dateLayout   = "2006-01-02"
	minuteLayout = "15:04"
)

var periods = map[string]Period{
	"1d": {Token: "1d", Function: FunctionIntraday, Interval: "5min", OutputSize: "full", Intraday: true, LabelLayout: minuteLayout},
	"1w": {Token: "1w", Function: FunctionDaily, OutputSize: "compact", Window: 5, LabelLayout: dateLayout},
	"1m": {Token: "1m", Function: FunctionDaily, OutputSize: "compact", Window: 21, LabelLayout: dateLayout},
	"3m": {Token: "3m", Function: FunctionDaily, OutputSize: "full", Window: 63, LabelLayout: dateLayout},
	"6m": {Token: "6m", Function: FunctionDaily, OutputSize: "full", Window: 126, LabelLayout: dateLayout},
	"1y": {Token: "1y", Function: FunctionDaily, OutputSize: "full", Window: 252, LabelLayout: dateLayout},
	"5y": {Token: "5y", Function: FunctionDaily, OutputSize: "full", Window: 1260, LabelLayout: dateLayout},
}

// LookupPeriod resolves a period token, falling back to DefaultPeriod for
// anything unknown.
func LookupPeriod(token string) Period {
	if p, ok := periods[strings.ToLower(strings.TrimSpace(token))]; ok {
		return p
	}
	return periods[DefaultPeriod]
}

// SeriesKey is the payload key holding the time series for this period.
func (p Period) SeriesKey() string {
	if p.Intraday {
		return "Time Series (" + p.Interval + ")"
	}
	return "Time Series (Daily)"
}

// StampLayout is the layout of the series' date keys.
func (p Period) StampLayout() string {
	if p.Intraday {
		return "2006-01-02 15:04:05"
	}
	return dateLayout
}
