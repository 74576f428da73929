// Package market defines the market-data boundary consumed by the
// detector, evaluator, and scheduler.
package market

import (
	"context"
	"errors"

	"pumpwatch/internal/models"
)

// ErrRateLimited marks a fetch rejected by the exchange's rate limiter.
// Callers treat it as a transient failure for the affected instrument and
// cycle only.
var ErrRateLimited = errors.New("market data rate limited")

// DataProvider fetches candle and ticker data for one exchange.
type DataProvider interface {
	// FetchCandles returns up to limit candles for the instrument and
	// timeframe, ascending by open time. Fewer candles may come back near
	// an instrument's listing time.
	FetchCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error)

	// FetchInstrumentSummary returns the latest ticker view for one
	// instrument; used by universe selection.
	FetchInstrumentSummary(ctx context.Context, instrument string) (models.InstrumentSummary, error)
}
