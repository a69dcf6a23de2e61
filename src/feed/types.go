// Package feed supplies timestamped prices to the estimator.
//
// A Source answers "what is the latest candle for this symbol/timeframe";
// the Poller turns repeated answers into a strictly increasing stream of
// Observations, dropping repeats and retrying transient failures.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned by a Source that has nothing to report yet.
var ErrNoData = errors.New("no candle available yet")

// Candle is the part of an OHLCV bar the estimator consumes.
type Candle struct {
	Open  time.Time
	Close decimal.Decimal
}

// Observation is one accepted price for a symbol.
type Observation struct {
	Symbol string
	Time   time.Time
	Price  float64
	Raw    decimal.Decimal
}

// Source returns the most recent candle for a symbol and timeframe.
type Source interface {
	Latest(ctx context.Context, symbol, timeframe string) (Candle, error)
}

var timeframes = map[string]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// TimeframeDuration returns the bar length of a timeframe identifier.
func TimeframeDuration(tf string) (time.Duration, error) {
	d, ok := timeframes[tf]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", tf)
	}
	return d, nil
}

// ExchangeSymbol converts "BTC/USDT" to the exchange form "BTCUSDT".
func ExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol))
}
