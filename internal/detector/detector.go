// Package detector turns a closed candle series into discrete pump/dump
// events, applying confirmation filters and cooldown against the store.
package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpwatch/internal/indicators"
	"pumpwatch/internal/models"
	"pumpwatch/internal/store"
)

// Thresholds are the percent-move trigger levels for one timeframe, both
// positive.
type Thresholds struct {
	PumpPct float64
	DumpPct float64
}

// Settings configures the detection rule.
type Settings struct {
	Indicators      indicators.Config
	Thresholds      map[models.Timeframe]Thresholds
	RSIOverbought   float64
	RSIOversold     float64
	MinBodyFraction float64
	VolumeZFloor    float64
	CooldownBars    int
	// PumpPriority resolves a candle that triggers both directions in
	// favor of pump alone; when false both events fire.
	PumpPriority bool
}

// Detector decides, for the latest closed candle only, whether a pump or
// dump event fires. Historical candles are never re-evaluated.
type Detector struct {
	settings Settings
	store    store.EventStore
	logger   zerolog.Logger
}

// New creates a Detector writing fired events through the given store.
func New(settings Settings, st store.EventStore) *Detector {
	return &Detector{
		settings: settings,
		store:    st,
		logger:   log.With().Str("component", "detector").Logger(),
	}
}

// Detect evaluates the latest closed candle and returns the events that
// actually fired (passed all filters, survived cooldown, and were newly
// inserted). Insufficient history is a normal empty result, not an error.
func (d *Detector) Detect(ctx context.Context, instrument string, tf models.Timeframe, candles []models.Candle, now time.Time) ([]models.Event, error) {
	n := len(candles)
	if n < 2 || n < d.settings.Indicators.MaxLookback()+1 {
		return nil, nil
	}

	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	last := candles[n-1]
	current := indicators.Compute(closes, volumes, d.settings.Indicators)
	previous := indicators.Compute(closes[:n-1], volumes[:n-1], d.settings.Indicators)
	changePct := (last.Close/closes[n-2] - 1) * 100

	thresholds, ok := d.settings.Thresholds[tf]
	if !ok {
		return nil, fmt.Errorf("no thresholds configured for timeframe %s", tf)
	}

	candidates := d.decide(last, changePct, thresholds, current, previous)

	var fired []models.Event
	for _, dir := range candidates {
		suppressed, err := d.inCooldown(ctx, instrument, tf, dir, last.OpenTime)
		if err != nil {
			return fired, err
		}
		if suppressed {
			d.logger.Debug().
				Str("instrument", instrument).
				Str("timeframe", string(tf)).
				Str("direction", string(dir)).
				Msg("candidate suppressed by cooldown")
			continue
		}

		ev := models.Event{
			Instrument:  instrument,
			Timeframe:   tf,
			Direction:   dir,
			AnchorTime:  last.OpenTime,
			AnchorPrice: last.Close,
			ChangePct:   changePct,
			FiredAt:     now,
		}
		inserted, err := d.store.InsertIfAbsent(ctx, ev)
		if err != nil {
			return fired, err
		}
		if inserted {
			fired = append(fired, ev)
		}
	}
	return fired, nil
}

// decide applies the raw trigger, candle confirmation, and volume filter,
// then resolves the two-direction tie.
func (d *Detector) decide(last models.Candle, changePct float64, th Thresholds, current, previous indicators.Snapshot) []models.Direction {
	// An absent z-score means the volume baseline was degenerate; the
	// filter fails rather than passes.
	if !current.VolumeZScore.OK || current.VolumeZScore.V < d.settings.VolumeZFloor {
		return nil
	}

	pump := d.rawTrigger(models.DirectionPump, last, changePct, th, current, previous) &&
		d.confirms(models.DirectionPump, last)
	dump := d.rawTrigger(models.DirectionDump, last, changePct, th, current, previous) &&
		d.confirms(models.DirectionDump, last)

	switch {
	case pump && dump && d.settings.PumpPriority:
		return []models.Direction{models.DirectionPump}
	case pump && dump:
		return []models.Direction{models.DirectionPump, models.DirectionDump}
	case pump:
		return []models.Direction{models.DirectionPump}
	case dump:
		return []models.Direction{models.DirectionDump}
	}
	return nil
}

func (d *Detector) rawTrigger(dir models.Direction, last models.Candle, changePct float64, th Thresholds, current, previous indicators.Snapshot) bool {
	if dir == models.DirectionPump {
		if changePct >= th.PumpPct {
			return true
		}
		if current.RSI.OK && previous.RSI.OK &&
			previous.RSI.V < d.settings.RSIOverbought && current.RSI.V >= d.settings.RSIOverbought {
			return true
		}
		if current.BollingerUpper.OK && last.High >= current.BollingerUpper.V {
			return true
		}
		return false
	}

	if changePct <= -th.DumpPct {
		return true
	}
	if current.RSI.OK && previous.RSI.OK &&
		previous.RSI.V > d.settings.RSIOversold && current.RSI.V <= d.settings.RSIOversold {
		return true
	}
	if current.BollingerLower.OK && last.Low <= current.BollingerLower.V {
		return true
	}
	return false
}

// confirms checks that the triggering candle's body is a large enough share
// of its range and points in the signal direction.
func (d *Detector) confirms(dir models.Direction, last models.Candle) bool {
	rng := last.High - last.Low
	if rng <= 0 {
		return false
	}
	if math.Abs(last.Close-last.Open)/rng < d.settings.MinBodyFraction {
		return false
	}
	if dir == models.DirectionPump {
		return last.Close > last.Open
	}
	return last.Close < last.Open
}

// inCooldown suppresses a candidate whose anchor lies within
// cooldownBars * timeframeMinutes of the last fired anchor for the key.
func (d *Detector) inCooldown(ctx context.Context, instrument string, tf models.Timeframe, dir models.Direction, anchorTime int64) (bool, error) {
	lastAnchor, found, err := d.store.LastAnchor(ctx, instrument, tf, dir)
	if err != nil {
		return false, fmt.Errorf("cooldown lookup: %w", err)
	}
	if !found {
		return false, nil
	}
	windowMs := int64(d.settings.CooldownBars) * int64(tf.Minutes()) * 60_000
	return anchorTime-lastAnchor < windowMs, nil
}
