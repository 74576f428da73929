package models

import (
	"fmt"
	"time"
)

// Candle represents a single OHLCV bar. OpenTime is in epoch milliseconds.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Direction of a detected event.
type Direction string

const (
	DirectionPump Direction = "pump"
	DirectionDump Direction = "dump"
)

// Timeframe is a candle interval such as "5m" or "15m".
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Minutes returns the bar duration in minutes, 0 for an unknown timeframe.
func (tf Timeframe) Minutes() int {
	switch tf {
	case Timeframe1m:
		return 1
	case Timeframe5m:
		return 5
	case Timeframe15m:
		return 15
	case Timeframe1h:
		return 60
	}
	return 0
}

// Duration returns the bar duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes()) * time.Minute
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if tf.Minutes() == 0 {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// EventKey identifies a logical event. Detecting the same direction on the
// same anchor candle twice maps to the same key.
type EventKey struct {
	Instrument string
	Timeframe  Timeframe
	Direction  Direction
	AnchorTime int64
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s/%s/%s@%d", k.Instrument, k.Timeframe, k.Direction, k.AnchorTime)
}

// Event is a detected pump or dump. Outcome stays nil until the evaluator
// records it; it is never overwritten afterwards.
type Event struct {
	Instrument  string
	Timeframe   Timeframe
	Direction   Direction
	AnchorTime  int64 // OpenTime of the triggering candle, epoch ms
	AnchorPrice float64
	ChangePct   float64 // close-to-close move of the triggering candle
	FiredAt     time.Time
	Outcome     *Outcome
}

// Key returns the identity key of the event.
func (e Event) Key() EventKey {
	return EventKey{
		Instrument: e.Instrument,
		Timeframe:  e.Timeframe,
		Direction:  e.Direction,
		AnchorTime: e.AnchorTime,
	}
}

// Outcome is the realized forward behavior after an event, relative to the
// anchor price. ForwardReturnPct holds only the horizons that were in
// range; TimeToReversionMinutes is nil when price never crossed back within
// the evaluation window.
type Outcome struct {
	WorstReturnPct         float64
	BestReturnPct          float64
	ForwardReturnPct       map[int]float64 // horizon minutes -> percent
	TimeToReversionMinutes *int
}

// StatsSnapshot aggregates evaluated events for one
// (instrument, timeframe, direction). All means are nil when EpisodeCount
// is zero; callers render "insufficient history" instead of zeros.
// ReversionCount is the number of episodes whose price crossed back through
// the anchor within the evaluation window; ReversionCount/EpisodeCount is
// the reported reversion frequency.
type StatsSnapshot struct {
	EpisodeCount        int
	ReversionCount      int
	MeanWorstReturn     *float64
	MeanBestReturn      *float64
	MeanForwardReturn   map[int]float64
	MeanTimeToReversion *float64
}

// InstrumentActivity is a per-instrument fired-event count, the row shape
// behind the /report and /top bot commands. Direction is empty when the
// count spans both directions.
type InstrumentActivity struct {
	Instrument string
	Direction  Direction
	Count      int
}

// InstrumentSummary is the ticker view used by universe selection.
type InstrumentSummary struct {
	Instrument     string
	LastPrice      float64
	QuoteVolume24h float64
}

// Alert pairs a fired event with the historical context shown to the user.
type Alert struct {
	Event Event
	Stats StatsSnapshot
}
