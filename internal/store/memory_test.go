package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpwatch/internal/models"
)

func testEvent(instrument string, dir models.Direction, anchorTime int64, firedAt time.Time) models.Event {
	return models.Event{
		Instrument:  instrument,
		Timeframe:   models.Timeframe5m,
		Direction:   dir,
		AnchorTime:  anchorTime,
		AnchorPrice: 100,
		ChangePct:   6.5,
		FiredAt:     firedAt,
	}
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ev := testEvent("BTCUSDT", models.DirectionPump, 1000, time.Now())

	inserted, err := m.InsertIfAbsent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = m.InsertIfAbsent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same identity key must report a duplicate")

	pending, err := m.ListPendingOlderThan(ctx, 0, time.Now())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRecordOutcomeAtMostOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	ev := testEvent("BTCUSDT", models.DirectionPump, 1000, now)

	_, err := m.InsertIfAbsent(ctx, ev)
	require.NoError(t, err)

	first := models.Outcome{WorstReturnPct: -3, BestReturnPct: 1}
	require.NoError(t, m.RecordOutcome(ctx, ev.Key(), first))

	second := models.Outcome{WorstReturnPct: -99, BestReturnPct: 99}
	require.NoError(t, m.RecordOutcome(ctx, ev.Key(), second))

	evaluated, err := m.QueryEvaluated(ctx, "BTCUSDT", models.Timeframe5m, models.DirectionPump, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, evaluated, 1)
	assert.Equal(t, -3.0, evaluated[0].Outcome.WorstReturnPct, "first recorded outcome must stay frozen")
}

func TestRecordOutcomeUnknownKeyIsNoOp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	key := models.EventKey{Instrument: "NOPEUSDT", Timeframe: models.Timeframe5m, Direction: models.DirectionDump, AnchorTime: 42}
	assert.NoError(t, m.RecordOutcome(ctx, key, models.Outcome{WorstReturnPct: -1}))
}

func TestListPendingOlderThanFiltersByAnchorAge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	old := testEvent("OLDUSDT", models.DirectionPump, now.Add(-2*time.Hour).UnixMilli(), now)
	fresh := testEvent("NEWUSDT", models.DirectionPump, now.Add(-5*time.Minute).UnixMilli(), now)
	evaluated := testEvent("DONEUSDT", models.DirectionPump, now.Add(-3*time.Hour).UnixMilli(), now)

	for _, ev := range []models.Event{old, fresh, evaluated} {
		_, err := m.InsertIfAbsent(ctx, ev)
		require.NoError(t, err)
	}
	require.NoError(t, m.RecordOutcome(ctx, evaluated.Key(), models.Outcome{}))

	pending, err := m.ListPendingOlderThan(ctx, time.Hour, now)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "OLDUSDT", pending[0].Instrument)
}

func TestQueryEvaluatedFiltersKeyAndWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	inWindow := testEvent("BTCUSDT", models.DirectionPump, 1000, now.Add(-time.Hour))
	outOfWindow := testEvent("BTCUSDT", models.DirectionPump, 2000, now.Add(-48*time.Hour))
	otherDir := testEvent("BTCUSDT", models.DirectionDump, 3000, now.Add(-time.Hour))

	for _, ev := range []models.Event{inWindow, outOfWindow, otherDir} {
		_, err := m.InsertIfAbsent(ctx, ev)
		require.NoError(t, err)
		require.NoError(t, m.RecordOutcome(ctx, ev.Key(), models.Outcome{}))
	}

	got, err := m.QueryEvaluated(ctx, "BTCUSDT", models.Timeframe5m, models.DirectionPump, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1000), got[0].AnchorTime)
}

func TestLastAnchorTracksMostRecent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	_, _, err := m.LastAnchor(ctx, "BTCUSDT", models.Timeframe5m, models.DirectionPump)
	require.NoError(t, err)

	for _, anchor := range []int64{1000, 3000, 2000} {
		_, err := m.InsertIfAbsent(ctx, testEvent("BTCUSDT", models.DirectionPump, anchor, now))
		require.NoError(t, err)
	}

	last, found, err := m.LastAnchor(ctx, "BTCUSDT", models.Timeframe5m, models.DirectionPump)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3000), last)

	_, found, err = m.LastAnchor(ctx, "BTCUSDT", models.Timeframe5m, models.DirectionDump)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCountByDirectionSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	recent := []models.Event{
		testEvent("AUSDT", models.DirectionPump, 1, now.Add(-time.Hour)),
		testEvent("BUSDT", models.DirectionPump, 2, now.Add(-2*time.Hour)),
		testEvent("CUSDT", models.DirectionDump, 3, now.Add(-time.Hour)),
	}
	stale := testEvent("DUSDT", models.DirectionDump, 4, now.Add(-30*time.Hour))

	for _, ev := range append(recent, stale) {
		_, err := m.InsertIfAbsent(ctx, ev)
		require.NoError(t, err)
	}

	pumps, dumps, err := m.CountByDirectionSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, pumps)
	assert.Equal(t, 1, dumps)
}

func TestCountByInstrumentSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	events := []models.Event{
		testEvent("AUSDT", models.DirectionPump, 1, now.Add(-time.Hour)),
		testEvent("AUSDT", models.DirectionPump, 2, now.Add(-2*time.Hour)),
		testEvent("AUSDT", models.DirectionDump, 3, now.Add(-time.Hour)),
		testEvent("BUSDT", models.DirectionDump, 4, now.Add(-time.Hour)),
		testEvent("AUSDT", models.DirectionPump, 5, now.Add(-30*time.Hour)),
	}
	for _, ev := range events {
		_, err := m.InsertIfAbsent(ctx, ev)
		require.NoError(t, err)
	}

	rows, err := m.CountByInstrumentSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []models.InstrumentActivity{
		{Instrument: "AUSDT", Direction: models.DirectionDump, Count: 1},
		{Instrument: "AUSDT", Direction: models.DirectionPump, Count: 2},
		{Instrument: "BUSDT", Direction: models.DirectionDump, Count: 1},
	}, rows)
}

func TestTopInstrumentsRankedAndCapped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	for i, instrument := range []string{"AUSDT", "BUSDT", "BUSDT", "CUSDT", "CUSDT", "CUSDT"} {
		_, err := m.InsertIfAbsent(ctx, testEvent(instrument, models.DirectionPump, int64(i), now))
		require.NoError(t, err)
	}

	rows, err := m.TopInstruments(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []models.InstrumentActivity{
		{Instrument: "CUSDT", Count: 3},
		{Instrument: "BUSDT", Count: 2},
	}, rows)
}

func TestRecentEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	for i := 0; i < 4; i++ {
		ev := testEvent("BTCUSDT", models.DirectionPump, int64(i), now.Add(-time.Duration(i)*time.Hour))
		_, err := m.InsertIfAbsent(ctx, ev)
		require.NoError(t, err)
	}
	_, err := m.InsertIfAbsent(ctx, testEvent("ETHUSDT", models.DirectionPump, 99, now))
	require.NoError(t, err)

	got, err := m.RecentEvents(ctx, "BTCUSDT", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(0), got[0].AnchorTime, "newest fired event comes first")
	assert.Equal(t, int64(1), got[1].AnchorTime)
	assert.Equal(t, int64(2), got[2].AnchorTime)
}

func TestMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	got, err := m.MetaGet(ctx, "daily_report_date")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, m.MetaSet(ctx, "daily_report_date", "2024-06-01"))
	require.NoError(t, m.MetaSet(ctx, "daily_report_date", "2024-06-02"))

	got, err = m.MetaGet(ctx, "daily_report_date")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", got)
}
