package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pumpwatch/internal/models"
)

// Memory is an in-memory EventStore. It backs single-process runs without a
// database and the unit tests; state does not survive a restart.
type Memory struct {
	mu     sync.Mutex
	events map[models.EventKey]*models.Event
	meta   map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events: make(map[models.EventKey]*models.Event),
		meta:   make(map[string]string),
	}
}

func (m *Memory) InsertIfAbsent(_ context.Context, ev models.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ev.Key()
	if _, exists := m.events[key]; exists {
		return false, nil
	}
	stored := ev
	m.events[key] = &stored
	return true, nil
}

func (m *Memory) ListPendingOlderThan(_ context.Context, minAge time.Duration, now time.Time) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-minAge).UnixMilli()
	var out []models.Event
	for _, ev := range m.events {
		if ev.Outcome == nil && ev.AnchorTime <= cutoff {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *Memory) RecordOutcome(_ context.Context, key models.EventKey, out models.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, exists := m.events[key]
	if !exists || ev.Outcome != nil {
		return nil
	}
	stored := out
	ev.Outcome = &stored
	return nil
}

func (m *Memory) QueryEvaluated(_ context.Context, instrument string, tf models.Timeframe, dir models.Direction, since time.Time) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Event
	for _, ev := range m.events {
		if ev.Outcome == nil {
			continue
		}
		if ev.Instrument != instrument || ev.Timeframe != tf || ev.Direction != dir {
			continue
		}
		if ev.FiredAt.Before(since) {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

func (m *Memory) LastAnchor(_ context.Context, instrument string, tf models.Timeframe, dir models.Direction) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last int64
	found := false
	for _, ev := range m.events {
		if ev.Instrument != instrument || ev.Timeframe != tf || ev.Direction != dir {
			continue
		}
		if !found || ev.AnchorTime > last {
			last = ev.AnchorTime
			found = true
		}
	}
	return last, found, nil
}

func (m *Memory) CountByDirectionSince(_ context.Context, since time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pumps, dumps int
	for _, ev := range m.events {
		if ev.FiredAt.Before(since) {
			continue
		}
		if ev.Direction == models.DirectionPump {
			pumps++
		} else {
			dumps++
		}
	}
	return pumps, dumps, nil
}

func (m *Memory) CountByInstrumentSince(_ context.Context, since time.Time) ([]models.InstrumentActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct {
		instrument string
		direction  models.Direction
	}
	counts := make(map[key]int)
	for _, ev := range m.events {
		if ev.FiredAt.Before(since) {
			continue
		}
		counts[key{ev.Instrument, ev.Direction}]++
	}

	out := make([]models.InstrumentActivity, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.InstrumentActivity{Instrument: k.instrument, Direction: k.direction, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instrument != out[j].Instrument {
			return out[i].Instrument < out[j].Instrument
		}
		return out[i].Direction < out[j].Direction
	})
	return out, nil
}

func (m *Memory) TopInstruments(_ context.Context, limit int) ([]models.InstrumentActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, ev := range m.events {
		counts[ev.Instrument]++
	}

	out := make([]models.InstrumentActivity, 0, len(counts))
	for instrument, n := range counts {
		out = append(out, models.InstrumentActivity{Instrument: instrument, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Instrument < out[j].Instrument
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RecentEvents(_ context.Context, instrument string, limit int) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Event
	for _, ev := range m.events {
		if ev.Instrument == instrument {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MetaGet(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[key], nil
}

func (m *Memory) MetaSet(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}
