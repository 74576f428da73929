// Package stats reduces evaluated events into the rolling summary shown in
// alerts.
package stats

import (
	"context"
	"fmt"
	"time"

	"pumpwatch/internal/models"
	"pumpwatch/internal/store"
)

// Aggregator computes StatsSnapshots on demand; nothing is cached or
// persisted.
type Aggregator struct {
	store    store.EventStore
	lookback time.Duration
}

// New creates an Aggregator with the given lookback window.
func New(st store.EventStore, lookback time.Duration) *Aggregator {
	return &Aggregator{store: st, lookback: lookback}
}

// Snapshot aggregates evaluated events for the key within the lookback
// window. Each outcome dimension is averaged over the events that carry it;
// an absent forward return on one event does not exclude that event from
// the other means. Zero evaluated events yields EpisodeCount 0 and nil
// means, never zeros.
func (a *Aggregator) Snapshot(ctx context.Context, instrument string, tf models.Timeframe, dir models.Direction, now time.Time) (models.StatsSnapshot, error) {
	events, err := a.store.QueryEvaluated(ctx, instrument, tf, dir, now.Add(-a.lookback))
	if err != nil {
		return models.StatsSnapshot{}, fmt.Errorf("querying evaluated events: %w", err)
	}

	snap := models.StatsSnapshot{EpisodeCount: len(events)}
	if len(events) == 0 {
		return snap, nil
	}

	var worstSum, bestSum float64
	fwdSums := make(map[int]float64)
	fwdCounts := make(map[int]int)
	var reversionSum float64
	reversionCount := 0

	for _, ev := range events {
		out := ev.Outcome
		worstSum += out.WorstReturnPct
		bestSum += out.BestReturnPct
		for h, v := range out.ForwardReturnPct {
			fwdSums[h] += v
			fwdCounts[h]++
		}
		if out.TimeToReversionMinutes != nil {
			reversionSum += float64(*out.TimeToReversionMinutes)
			reversionCount++
		}
	}

	n := float64(len(events))
	meanWorst := worstSum / n
	meanBest := bestSum / n
	snap.MeanWorstReturn = &meanWorst
	snap.MeanBestReturn = &meanBest

	snap.MeanForwardReturn = make(map[int]float64, len(fwdSums))
	for h, sum := range fwdSums {
		snap.MeanForwardReturn[h] = sum / float64(fwdCounts[h])
	}

	snap.ReversionCount = reversionCount
	if reversionCount > 0 {
		meanReversion := reversionSum / float64(reversionCount)
		snap.MeanTimeToReversion = &meanReversion
	}

	return snap, nil
}
