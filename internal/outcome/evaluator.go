// Package outcome measures what actually happened after each event, once
// enough time has elapsed, and freezes the result in the store.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpwatch/internal/market"
	"pumpwatch/internal/models"
	"pumpwatch/internal/store"
)

// maxFetchLimit caps a single candle request (the exchange's kline limit).
const maxFetchLimit = 1000

// Settings configures the evaluator.
type Settings struct {
	// MinAge is how old an event's anchor must be before evaluation.
	MinAge time.Duration
	// Horizons are the forward-return sample offsets, in minutes.
	Horizons []int
}

// Evaluator computes realized outcomes for pending events.
type Evaluator struct {
	settings Settings
	market   market.DataProvider
	store    store.EventStore
	logger   zerolog.Logger
}

// New creates an Evaluator.
func New(settings Settings, provider market.DataProvider, st store.EventStore) *Evaluator {
	return &Evaluator{
		settings: settings,
		market:   provider,
		store:    st,
		logger:   log.With().Str("component", "outcome_evaluator").Logger(),
	}
}

// Run evaluates every pending event past its minimum age. Events whose
// anchor candle is missing from the fresh fetch, or that lack forward bars,
// are left pending for a later pass. Per-event failures never abort the
// pass.
func (e *Evaluator) Run(ctx context.Context, now time.Time) error {
	pending, err := e.store.ListPendingOlderThan(ctx, e.settings.MinAge, now)
	if err != nil {
		return fmt.Errorf("listing pending events: %w", err)
	}

	for _, ev := range pending {
		out, ok, err := e.Evaluate(ctx, ev, now)
		if err != nil {
			if errors.Is(err, market.ErrRateLimited) {
				e.logger.Warn().Str("event", ev.Key().String()).Msg("rate limited, deferring evaluation")
			} else {
				e.logger.Error().Err(err).Str("event", ev.Key().String()).Msg("evaluation failed")
			}
			continue
		}
		if !ok {
			continue
		}
		if err := e.store.RecordOutcome(ctx, ev.Key(), out); err != nil {
			e.logger.Error().Err(err).Str("event", ev.Key().String()).Msg("recording outcome failed")
			continue
		}
		e.logger.Info().
			Str("event", ev.Key().String()).
			Float64("worst_return_pct", out.WorstReturnPct).
			Float64("best_return_pct", out.BestReturnPct).
			Msg("outcome recorded")
	}
	return nil
}

// Evaluate computes the outcome for one event. The second return is false
// when the event is not yet evaluable (anchor candle missing from the fetch
// or no forward bars); that is a deferral, not an error.
func (e *Evaluator) Evaluate(ctx context.Context, ev models.Event, now time.Time) (models.Outcome, bool, error) {
	tfMinutes := ev.Timeframe.Minutes()
	if tfMinutes == 0 {
		return models.Outcome{}, false, fmt.Errorf("event %s has unknown timeframe", ev.Key())
	}

	maxBars := e.maxHorizonMinutes() / tfMinutes
	barsSinceAnchor := int((now.UnixMilli() - ev.AnchorTime) / int64(tfMinutes*60_000))
	limit := barsSinceAnchor + maxBars + 5
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	candles, err := e.market.FetchCandles(ctx, ev.Instrument, ev.Timeframe, limit)
	if err != nil {
		return models.Outcome{}, false, err
	}

	// The anchor must match exactly; a nearest-neighbor match would skew
	// every return against the wrong base price.
	anchor := -1
	for i, c := range candles {
		if c.OpenTime == ev.AnchorTime {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		e.logger.Debug().Str("event", ev.Key().String()).Msg("anchor candle absent from fetch, deferring")
		return models.Outcome{}, false, nil
	}

	end := anchor + maxBars
	if last := len(candles) - 1; end > last {
		end = last
	}
	if end <= anchor {
		return models.Outcome{}, false, nil
	}

	out := models.Outcome{
		ForwardReturnPct: make(map[int]float64, len(e.settings.Horizons)),
	}

	worst := candles[anchor+1].Close
	best := candles[anchor+1].Close
	for k := anchor + 1; k <= end; k++ {
		c := candles[k].Close
		if c < worst {
			worst = c
		}
		if c > best {
			best = c
		}
	}
	out.WorstReturnPct = (worst/ev.AnchorPrice - 1) * 100
	out.BestReturnPct = (best/ev.AnchorPrice - 1) * 100

	for _, h := range e.settings.Horizons {
		// Horizons finer than one bar of the event's timeframe are not
		// representable and stay absent.
		if h%tfMinutes != 0 {
			continue
		}
		bars := h / tfMinutes
		if bars < 1 || anchor+bars >= len(candles) {
			continue
		}
		out.ForwardReturnPct[h] = (candles[anchor+bars].Close/ev.AnchorPrice - 1) * 100
	}

	for k := anchor + 1; k <= end; k++ {
		c := candles[k].Close
		reverted := (ev.Direction == models.DirectionPump && c < ev.AnchorPrice) ||
			(ev.Direction == models.DirectionDump && c > ev.AnchorPrice)
		if reverted {
			minutes := (k - anchor) * tfMinutes
			out.TimeToReversionMinutes = &minutes
			break
		}
	}

	return out, true, nil
}

func (e *Evaluator) maxHorizonMinutes() int {
	max := 0
	for _, h := range e.settings.Horizons {
		if h > max {
			max = h
		}
	}
	return max
}
