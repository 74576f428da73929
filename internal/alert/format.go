// Package alert composes the HTML message delivered for a fired event.
package alert

import (
	"fmt"
	"sort"
	"strings"

	"pumpwatch/internal/models"
)

// Compose renders one alert. A key with no evaluated history gets an
// explicit "insufficient history" line; partial statistics never reach the
// recipient as zeros.
func Compose(a models.Alert) string {
	ev := a.Event

	banner := "🚨 Pump"
	if ev.Direction == models.DirectionDump {
		banner = "🔻 Dump"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", banner, ev.Timeframe)
	fmt.Fprintf(&b, "Contract: <b>%s</b>\n", ev.Instrument)
	fmt.Fprintf(&b, "Change: <b>%+.2f%%</b> on the last %s candle", ev.ChangePct, ev.Timeframe)

	b.WriteString("\n\n📊 History")
	if a.Stats.EpisodeCount == 0 {
		b.WriteString(": insufficient history for this contract")
	} else {
		fmt.Fprintf(&b, " (%d evaluated %ss):", a.Stats.EpisodeCount, ev.Direction)
		if a.Stats.MeanWorstReturn != nil {
			fmt.Fprintf(&b, "\n— Mean worst move after: <b>%+.2f%%</b>", *a.Stats.MeanWorstReturn)
		}
		if a.Stats.MeanBestReturn != nil {
			fmt.Fprintf(&b, "\n— Mean best move after: <b>%+.2f%%</b>", *a.Stats.MeanBestReturn)
		}
		if a.Stats.MeanTimeToReversion != nil {
			fmt.Fprintf(&b, "\n— Mean time to reversion: <b>%.0f min</b>", *a.Stats.MeanTimeToReversion)
		}

		// The probability is a plain frequency over the evaluated sample,
		// not a forecast.
		word := "drop"
		if ev.Direction == models.DirectionDump {
			word = "rebound"
		}
		rate := 100 * float64(a.Stats.ReversionCount) / float64(a.Stats.EpisodeCount)
		fmt.Fprintf(&b, "\n\n🎯 Probability of %s back through entry: <b>%.0f%%</b> (over %d cases)",
			word, rate, a.Stats.EpisodeCount)

		if len(a.Stats.MeanForwardReturn) > 0 {
			b.WriteString("\n⏱ Mean behavior after:")
			horizons := make([]int, 0, len(a.Stats.MeanForwardReturn))
			for h := range a.Stats.MeanForwardReturn {
				horizons = append(horizons, h)
			}
			sort.Ints(horizons)
			for _, h := range horizons {
				fmt.Fprintf(&b, "\n   %dm: <b>%+.2f%%</b>", h, a.Stats.MeanForwardReturn[h])
			}
		}
	}

	b.WriteString("\n\n<i>Not financial advice.</i>")
	return b.String()
}

// ComposeDailyReport renders the 24h summary message.
func ComposeDailyReport(pumps, dumps int, date string) string {
	return fmt.Sprintf(
		"📅 Daily report (24h)\n— Pumps: <b>%d</b>\n— Dumps: <b>%d</b>\n— UTC: %s",
		pumps, dumps, date,
	)
}

// ComposeActivityReport renders the /report reply: per-contract signal
// counts over the last 24 hours.
func ComposeActivityReport(rows []models.InstrumentActivity) string {
	if len(rows) == 0 {
		return "No signals in the last 24h."
	}
	var b strings.Builder
	b.WriteString("📈 24h report:")
	for _, r := range rows {
		icon := "🚨"
		if r.Direction == models.DirectionDump {
			icon = "🔻"
		}
		fmt.Fprintf(&b, "\n%s %s: %d (%s)", icon, r.Instrument, r.Count, r.Direction)
	}
	return b.String()
}

// ComposeTopInstruments renders the /top reply: the contracts with the most
// signals overall.
func ComposeTopInstruments(rows []models.InstrumentActivity) string {
	if len(rows) == 0 {
		return "No data yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 Top %d by signal count:", len(rows))
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%s: %d", r.Instrument, r.Count)
	}
	return b.String()
}

// ComposeHistory renders the /history reply: the latest signals for one
// contract, newest first.
func ComposeHistory(instrument string, events []models.Event) string {
	if len(events) == 0 {
		return fmt.Sprintf("No history for %s.", instrument)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 History %s (last %d):", instrument, len(events))
	for _, ev := range events {
		icon := "🚨"
		if ev.Direction == models.DirectionDump {
			icon = "🔻"
		}
		fmt.Fprintf(&b, "\n%s %s %s: %+.2f%%", ev.FiredAt.UTC().Format("2006-01-02 15:04"), icon, ev.Timeframe, ev.ChangePct)
	}
	return b.String()
}
