// Package store owns event identity and the single pending-to-evaluated
// transition of each event's outcome.
package store

import (
	"context"
	"time"

	"pumpwatch/internal/models"
)

// EventStore is the durable record of fired events. InsertIfAbsent and
// RecordOutcome must be safe under concurrent use and atomic per identity
// key; an outcome, once recorded, is frozen.
type EventStore interface {
	// InsertIfAbsent stores the event unless its identity key already
	// exists. Returns true when newly inserted, false on a duplicate;
	// a duplicate is not an error.
	InsertIfAbsent(ctx context.Context, ev models.Event) (bool, error)

	// ListPendingOlderThan returns events without an outcome whose anchor
	// time is at least minAge before now. This is the evaluator's queue.
	ListPendingOlderThan(ctx context.Context, minAge time.Duration, now time.Time) ([]models.Event, error)

	// RecordOutcome transitions one event from pending to evaluated.
	// Recording against an already-evaluated or unknown key is a no-op.
	RecordOutcome(ctx context.Context, key models.EventKey, out models.Outcome) error

	// QueryEvaluated returns evaluated events for the key fired since the
	// given time, the aggregator's read path.
	QueryEvaluated(ctx context.Context, instrument string, tf models.Timeframe, dir models.Direction, since time.Time) ([]models.Event, error)

	// LastAnchor returns the anchor time of the most recently fired event
	// for the key, the cooldown read path.
	LastAnchor(ctx context.Context, instrument string, tf models.Timeframe, dir models.Direction) (int64, bool, error)

	// CountByDirectionSince counts fired events per direction since the
	// given time; feeds the daily report.
	CountByDirectionSince(ctx context.Context, since time.Time) (pumps, dumps int, err error)

	// CountByInstrumentSince returns per-instrument, per-direction counts
	// of events fired since the given time, ordered by instrument; feeds
	// the /report command.
	CountByInstrumentSince(ctx context.Context, since time.Time) ([]models.InstrumentActivity, error)

	// TopInstruments returns up to limit instruments ranked by total fired
	// events, most active first; feeds the /top command.
	TopInstruments(ctx context.Context, limit int) ([]models.InstrumentActivity, error)

	// RecentEvents returns up to limit fired events for one instrument,
	// newest first; feeds the /history command.
	RecentEvents(ctx context.Context, instrument string, limit int) ([]models.Event, error)

	// MetaGet and MetaSet access small operational key/value state, such
	// as the last daily-report date.
	MetaGet(ctx context.Context, key string) (string, error)
	MetaSet(ctx context.Context, key, value string) error
}
