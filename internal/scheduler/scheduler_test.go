package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpwatch/internal/detector"
	"pumpwatch/internal/indicators"
	"pumpwatch/internal/market"
	"pumpwatch/internal/models"
	"pumpwatch/internal/outcome"
	"pumpwatch/internal/stats"
	"pumpwatch/internal/store"
)

const barMs = 5 * 60 * 1000

// fakeProvider serves canned candles per instrument and fails the rest.
type fakeProvider struct {
	candles map[string][]models.Candle
	errs    map[string]error
}

func (f *fakeProvider) FetchCandles(_ context.Context, instrument string, _ models.Timeframe, _ int) ([]models.Candle, error) {
	if err, ok := f.errs[instrument]; ok {
		return nil, err
	}
	if candles, ok := f.candles[instrument]; ok {
		return candles, nil
	}
	return nil, fmt.Errorf("unknown instrument %s", instrument)
}

func (f *fakeProvider) FetchInstrumentSummary(_ context.Context, instrument string) (models.InstrumentSummary, error) {
	return models.InstrumentSummary{Instrument: instrument}, nil
}

// fakeSink records every delivered message.
type fakeSink struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeSink) Deliver(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeSink) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func spikeSeries() []models.Candle {
	candles := make([]models.Candle, 20)
	for i := 0; i < 20; i++ {
		volume := 100.0
		if i%2 == 1 {
			volume = 110
		}
		candles[i] = models.Candle{
			OpenTime: int64(i) * barMs,
			Open:     100, High: 100.2, Low: 99.8, Close: 100,
			Volume: volume,
		}
	}
	return append(candles, models.Candle{
		OpenTime: int64(20) * barMs,
		Open:     100, High: 106.2, Low: 99.9, Close: 106, Volume: 500,
	})
}

func newTestScheduler(provider market.DataProvider, sink *fakeSink, st store.EventStore, instruments []string) *Scheduler {
	det := detector.New(detector.Settings{
		Indicators: indicators.Config{
			RSIPeriod: 5, EMAPeriod: 5, BollingerPeriod: 5, BollingerMultiplier: 2, VolumeZPeriod: 5,
		},
		Thresholds: map[models.Timeframe]detector.Thresholds{
			models.Timeframe5m: {PumpPct: 6, DumpPct: 6},
		},
		RSIOverbought:   70,
		RSIOversold:     30,
		MinBodyFraction: 0.6,
		VolumeZFloor:    2,
		CooldownBars:    5,
		PumpPriority:    true,
	}, st)

	eval := outcome.New(outcome.Settings{MinAge: time.Hour, Horizons: []int{5, 15, 30, 60}}, provider, st)
	agg := stats.New(st, 30*24*time.Hour)

	s := New(Settings{
		Timeframes:         []models.Timeframe{models.Timeframe5m},
		ScanPeriod:         time.Minute,
		Workers:            2,
		CandleCount:        100,
		RequestTimeout:     5 * time.Second,
		DailyReportHourUTC: 6,
	}, instruments, nil, det, eval, agg, st, provider, sink)

	// A fixed clock one bar after the spike keeps the final candle closed.
	s.now = func() time.Time { return time.UnixMilli(21 * barMs) }
	return s
}

func TestCycleFiresAlertAndIsolatesFailures(t *testing.T) {
	provider := &fakeProvider{
		candles: map[string][]models.Candle{"GOODUSDT": spikeSeries()},
		errs: map[string]error{
			"BADUSDT": errors.New("connection reset"),
			"RLUSDT":  fmt.Errorf("fetch: %w", market.ErrRateLimited),
		},
	}
	sink := &fakeSink{}
	st := store.NewMemory()
	s := newTestScheduler(provider, sink, st, []string{"BADUSDT", "RLUSDT", "GOODUSDT"})

	s.runCycle(context.Background())

	messages := sink.delivered()
	require.Len(t, messages, 1, "failing instruments must not block the healthy one")
	assert.Contains(t, messages[0], "GOODUSDT")
	assert.Contains(t, messages[0], "insufficient history")

	pending, err := st.ListPendingOlderThan(context.Background(), 0, time.Now())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCycleDoesNotRefireWithinCooldown(t *testing.T) {
	provider := &fakeProvider{candles: map[string][]models.Candle{"GOODUSDT": spikeSeries()}}
	sink := &fakeSink{}
	st := store.NewMemory()
	s := newTestScheduler(provider, sink, st, []string{"GOODUSDT"})

	s.runCycle(context.Background())
	s.runCycle(context.Background())

	assert.Len(t, sink.delivered(), 1, "re-scanning the same anchor must not alert twice")
}

func TestDetectionErrorOnOneTimeframeStillAlertsOthers(t *testing.T) {
	provider := &fakeProvider{candles: map[string][]models.Candle{"GOODUSDT": spikeSeries()}}
	sink := &fakeSink{}
	st := store.NewMemory()
	s := newTestScheduler(provider, sink, st, []string{"GOODUSDT"})

	// The 15m pass errors (no thresholds configured for it); the 5m pass
	// behind it must still fire and deliver.
	s.settings.Timeframes = []models.Timeframe{models.Timeframe15m, models.Timeframe5m}

	s.runCycle(context.Background())

	messages := sink.delivered()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "GOODUSDT")
}

func TestDeliveryFailureIsNonFatal(t *testing.T) {
	provider := &fakeProvider{candles: map[string][]models.Candle{"GOODUSDT": spikeSeries()}}
	sink := &fakeSink{err: errors.New("sink down")}
	st := store.NewMemory()
	s := newTestScheduler(provider, sink, st, []string{"GOODUSDT"})

	s.runCycle(context.Background())

	// The event is still recorded even though delivery failed.
	pending, err := st.ListPendingOlderThan(context.Background(), 0, time.Now())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDropOpenCandle(t *testing.T) {
	closedAt := time.UnixMilli(2 * barMs)
	candles := []models.Candle{
		{OpenTime: 0},
		{OpenTime: barMs},
	}

	kept := dropOpenCandle(candles, models.Timeframe5m, closedAt)
	assert.Len(t, kept, 2, "a candle that closed exactly now is kept")

	kept = dropOpenCandle(candles, models.Timeframe5m, closedAt.Add(-time.Second))
	assert.Len(t, kept, 1, "a still-open trailing candle is dropped")

	assert.Empty(t, dropOpenCandle(nil, models.Timeframe5m, closedAt))
}

func TestDailyReportOncePerDay(t *testing.T) {
	provider := &fakeProvider{candles: map[string][]models.Candle{}}
	sink := &fakeSink{}
	st := store.NewMemory()
	s := newTestScheduler(provider, sink, st, []string{"GOODUSDT"})

	ctx := context.Background()
	_, err := st.InsertIfAbsent(ctx, models.Event{
		Instrument: "GOODUSDT", Timeframe: models.Timeframe5m, Direction: models.DirectionPump,
		AnchorTime: 1, AnchorPrice: 100, FiredAt: time.Date(2024, 6, 1, 5, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	reportTime := time.Date(2024, 6, 1, 6, 10, 0, 0, time.UTC)
	s.maybeDailyReport(ctx, reportTime)
	s.maybeDailyReport(ctx, reportTime.Add(20*time.Minute))

	var reports int
	for _, msg := range sink.delivered() {
		if strings.Contains(msg, "Daily report") {
			reports++
		}
	}
	assert.Equal(t, 1, reports)

	s.maybeDailyReport(ctx, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, len(sink.delivered()), "outside the report hour nothing is sent")
}
