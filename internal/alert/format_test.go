package alert

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pumpwatch/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func baseEvent() models.Event {
	return models.Event{
		Instrument:  "BTCUSDT",
		Timeframe:   models.Timeframe5m,
		Direction:   models.DirectionPump,
		AnchorTime:  1_700_000_000_000,
		AnchorPrice: 106,
		ChangePct:   6.02,
		FiredAt:     time.Now(),
	}
}

func TestComposeInsufficientHistory(t *testing.T) {
	text := Compose(models.Alert{Event: baseEvent()})

	assert.Contains(t, text, "🚨 Pump")
	assert.Contains(t, text, "BTCUSDT")
	assert.Contains(t, text, "insufficient history")
	assert.NotContains(t, text, "0.00%", "missing aggregates must never render as zeros")
	assert.NotContains(t, text, "🎯", "no probability line without evaluated episodes")
}

func TestComposeWithStats(t *testing.T) {
	alert := models.Alert{
		Event: baseEvent(),
		Stats: models.StatsSnapshot{
			EpisodeCount:        12,
			ReversionCount:      9,
			MeanWorstReturn:     floatPtr(-3.41),
			MeanBestReturn:      floatPtr(1.27),
			MeanForwardReturn:   map[int]float64{5: -0.8, 15: -1.9, 60: -2.5},
			MeanTimeToReversion: floatPtr(22),
		},
	}
	text := Compose(alert)

	assert.Contains(t, text, "12 evaluated pumps")
	assert.Contains(t, text, "-3.41%")
	assert.Contains(t, text, "+1.27%")
	assert.Contains(t, text, "22 min")
	assert.Contains(t, text, "Probability of drop back through entry: <b>75%</b> (over 12 cases)")
	assert.NotContains(t, text, "insufficient history")

	// Horizons render in ascending order.
	i5 := strings.Index(text, "5m:")
	i15 := strings.Index(text, "15m:")
	i60 := strings.Index(text, "60m:")
	assert.True(t, i5 < i15 && i15 < i60, "horizons must be sorted")
}

func TestComposeDumpBanner(t *testing.T) {
	ev := baseEvent()
	ev.Direction = models.DirectionDump
	ev.ChangePct = -7.3

	text := Compose(models.Alert{Event: ev})
	assert.Contains(t, text, "🔻 Dump")
	assert.Contains(t, text, "-7.30%")
}

func TestComposeDumpProbabilityWording(t *testing.T) {
	ev := baseEvent()
	ev.Direction = models.DirectionDump

	text := Compose(models.Alert{
		Event: ev,
		Stats: models.StatsSnapshot{EpisodeCount: 4, ReversionCount: 1},
	})
	assert.Contains(t, text, "Probability of rebound back through entry: <b>25%</b> (over 4 cases)")
}

func TestComposeDailyReport(t *testing.T) {
	text := ComposeDailyReport(4, 7, "2024-06-01 06:00")
	assert.Contains(t, text, "Pumps: <b>4</b>")
	assert.Contains(t, text, "Dumps: <b>7</b>")
	assert.Contains(t, text, "2024-06-01 06:00")
}

func TestComposeActivityReport(t *testing.T) {
	assert.Equal(t, "No signals in the last 24h.", ComposeActivityReport(nil))

	text := ComposeActivityReport([]models.InstrumentActivity{
		{Instrument: "BTCUSDT", Direction: models.DirectionPump, Count: 3},
		{Instrument: "ETHUSDT", Direction: models.DirectionDump, Count: 1},
	})
	assert.Contains(t, text, "🚨 BTCUSDT: 3 (pump)")
	assert.Contains(t, text, "🔻 ETHUSDT: 1 (dump)")
}

func TestComposeTopInstruments(t *testing.T) {
	assert.Equal(t, "No data yet.", ComposeTopInstruments(nil))

	text := ComposeTopInstruments([]models.InstrumentActivity{
		{Instrument: "SOLUSDT", Count: 9},
		{Instrument: "BTCUSDT", Count: 4},
	})
	assert.Contains(t, text, "Top 2")
	assert.Contains(t, text, "SOLUSDT: 9")
	assert.Contains(t, text, "BTCUSDT: 4")
}

func TestComposeHistory(t *testing.T) {
	assert.Equal(t, "No history for XRPUSDT.", ComposeHistory("XRPUSDT", nil))

	events := []models.Event{
		{
			Instrument: "XRPUSDT", Timeframe: models.Timeframe5m, Direction: models.DirectionPump,
			ChangePct: 6.4, FiredAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			Instrument: "XRPUSDT", Timeframe: models.Timeframe15m, Direction: models.DirectionDump,
			ChangePct: -12.1, FiredAt: time.Date(2024, 5, 30, 8, 30, 0, 0, time.UTC),
		},
	}
	text := ComposeHistory("XRPUSDT", events)
	assert.Contains(t, text, "History XRPUSDT (last 2)")
	assert.Contains(t, text, "2024-06-01 12:00 🚨 5m: +6.40%")
	assert.Contains(t, text, "2024-05-30 08:30 🔻 15m: -12.10%")
}
