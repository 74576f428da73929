package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"pumpwatch/internal/models"
)

// outcomeHorizons are the forward-return columns carried by the events
// table. Horizons the evaluator could not sample stay NULL.
var outcomeHorizons = []int{5, 15, 30, 60}

// Postgres is the durable EventStore. Identity is the table's primary key,
// so idempotent inserts and the at-most-once outcome transition are
// enforced by the database rather than by process-level locking.
type Postgres struct {
	db *sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters.
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewPostgres opens a connection and ensures the schema exists.
func NewPostgres(params ConnectionParams) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Postgres{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			instrument TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			direction TEXT NOT NULL,
			anchor_time BIGINT NOT NULL,
			anchor_price DOUBLE PRECISION NOT NULL,
			change_pct DOUBLE PRECISION NOT NULL,
			fired_at TIMESTAMPTZ NOT NULL,
			worst_return_pct DOUBLE PRECISION,
			best_return_pct DOUBLE PRECISION,
			fwd_return_5m DOUBLE PRECISION,
			fwd_return_15m DOUBLE PRECISION,
			fwd_return_30m DOUBLE PRECISION,
			fwd_return_60m DOUBLE PRECISION,
			time_to_reversion_min INTEGER,
			evaluated_at TIMESTAMPTZ,
			PRIMARY KEY (instrument, timeframe, direction, anchor_time)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT
		)
	`)
	return err
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) InsertIfAbsent(ctx context.Context, ev models.Event) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO events (instrument, timeframe, direction, anchor_time, anchor_price, change_pct, fired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instrument, timeframe, direction, anchor_time) DO NOTHING
	`, ev.Instrument, string(ev.Timeframe), string(ev.Direction), ev.AnchorTime, ev.AnchorPrice, ev.ChangePct, ev.FiredAt)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Postgres) ListPendingOlderThan(ctx context.Context, minAge time.Duration, now time.Time) ([]models.Event, error) {
	cutoff := now.Add(-minAge).UnixMilli()
	rows, err := p.db.QueryContext(ctx, `
		SELECT instrument, timeframe, direction, anchor_time, anchor_price, change_pct, fired_at
		FROM events
		WHERE evaluated_at IS NULL AND anchor_time <= $1
		ORDER BY anchor_time
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var tf, dir string
		if err := rows.Scan(&ev.Instrument, &tf, &dir, &ev.AnchorTime, &ev.AnchorPrice, &ev.ChangePct, &ev.FiredAt); err != nil {
			return nil, err
		}
		ev.Timeframe = models.Timeframe(tf)
		ev.Direction = models.Direction(dir)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordOutcome(ctx context.Context, key models.EventKey, out models.Outcome) error {
	fwd := make(map[int]sql.NullFloat64, len(outcomeHorizons))
	for _, h := range outcomeHorizons {
		if v, ok := out.ForwardReturnPct[h]; ok {
			fwd[h] = sql.NullFloat64{Float64: v, Valid: true}
		} else {
			fwd[h] = sql.NullFloat64{}
		}
	}

	var reversion sql.NullInt64
	if out.TimeToReversionMinutes != nil {
		reversion = sql.NullInt64{Int64: int64(*out.TimeToReversionMinutes), Valid: true}
	}

	// The evaluated_at guard makes the transition one-shot: a second
	// write for the same key matches zero rows.
	_, err := p.db.ExecContext(ctx, `
		UPDATE events
		SET worst_return_pct = $1,
			best_return_pct = $2,
			fwd_return_5m = $3,
			fwd_return_15m = $4,
			fwd_return_30m = $5,
			fwd_return_60m = $6,
			time_to_reversion_min = $7,
			evaluated_at = NOW()
		WHERE instrument = $8 AND timeframe = $9 AND direction = $10 AND anchor_time = $11
			AND evaluated_at IS NULL
	`, out.WorstReturnPct, out.BestReturnPct,
		fwd[5], fwd[15], fwd[30], fwd[60], reversion,
		key.Instrument, string(key.Timeframe), string(key.Direction), key.AnchorTime)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (p *Postgres) QueryEvaluated(ctx context.Context, instrument string, tf models.Timeframe, dir models.Direction, since time.Time) ([]models.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instrument, timeframe, direction, anchor_time, anchor_price, change_pct, fired_at,
			worst_return_pct, best_return_pct,
			fwd_return_5m, fwd_return_15m, fwd_return_30m, fwd_return_60m,
			time_to_reversion_min
		FROM events
		WHERE instrument = $1 AND timeframe = $2 AND direction = $3
			AND evaluated_at IS NOT NULL AND fired_at >= $4
		ORDER BY fired_at
	`, instrument, string(tf), string(dir), since)
	if err != nil {
		return nil, fmt.Errorf("query evaluated: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var tfCol, dirCol string
		var worst, best sql.NullFloat64
		var fwd5, fwd15, fwd30, fwd60 sql.NullFloat64
		var reversion sql.NullInt64

		if err := rows.Scan(&ev.Instrument, &tfCol, &dirCol, &ev.AnchorTime, &ev.AnchorPrice, &ev.ChangePct, &ev.FiredAt,
			&worst, &best, &fwd5, &fwd15, &fwd30, &fwd60, &reversion); err != nil {
			return nil, err
		}
		ev.Timeframe = models.Timeframe(tfCol)
		ev.Direction = models.Direction(dirCol)

		outcome := models.Outcome{
			WorstReturnPct:   worst.Float64,
			BestReturnPct:    best.Float64,
			ForwardReturnPct: make(map[int]float64),
		}
		for h, col := range map[int]sql.NullFloat64{5: fwd5, 15: fwd15, 30: fwd30, 60: fwd60} {
			if col.Valid {
				outcome.ForwardReturnPct[h] = col.Float64
			}
		}
		if reversion.Valid {
			minutes := int(reversion.Int64)
			outcome.TimeToReversionMinutes = &minutes
		}
		ev.Outcome = &outcome
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) LastAnchor(ctx context.Context, instrument string, tf models.Timeframe, dir models.Direction) (int64, bool, error) {
	var anchor int64
	err := p.db.QueryRowContext(ctx, `
		SELECT anchor_time
		FROM events
		WHERE instrument = $1 AND timeframe = $2 AND direction = $3
		ORDER BY anchor_time DESC
		LIMIT 1
	`, instrument, string(tf), string(dir)).Scan(&anchor)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last anchor: %w", err)
	}
	return anchor, true, nil
}

func (p *Postgres) CountByDirectionSince(ctx context.Context, since time.Time) (int, int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT direction, COUNT(*)
		FROM events
		WHERE fired_at >= $1
		GROUP BY direction
	`, since)
	if err != nil {
		return 0, 0, fmt.Errorf("count by direction: %w", err)
	}
	defer rows.Close()

	var pumps, dumps int
	for rows.Next() {
		var dir string
		var count int
		if err := rows.Scan(&dir, &count); err != nil {
			return 0, 0, err
		}
		switch models.Direction(dir) {
		case models.DirectionPump:
			pumps = count
		case models.DirectionDump:
			dumps = count
		}
	}
	return pumps, dumps, rows.Err()
}

func (p *Postgres) CountByInstrumentSince(ctx context.Context, since time.Time) ([]models.InstrumentActivity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instrument, direction, COUNT(*)
		FROM events
		WHERE fired_at >= $1
		GROUP BY instrument, direction
		ORDER BY instrument, direction
	`, since)
	if err != nil {
		return nil, fmt.Errorf("count by instrument: %w", err)
	}
	defer rows.Close()

	var out []models.InstrumentActivity
	for rows.Next() {
		var row models.InstrumentActivity
		var dir string
		if err := rows.Scan(&row.Instrument, &dir, &row.Count); err != nil {
			return nil, err
		}
		row.Direction = models.Direction(dir)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Postgres) TopInstruments(ctx context.Context, limit int) ([]models.InstrumentActivity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instrument, COUNT(*) AS cnt
		FROM events
		GROUP BY instrument
		ORDER BY cnt DESC, instrument
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top instruments: %w", err)
	}
	defer rows.Close()

	var out []models.InstrumentActivity
	for rows.Next() {
		var row models.InstrumentActivity
		if err := rows.Scan(&row.Instrument, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Postgres) RecentEvents(ctx context.Context, instrument string, limit int) ([]models.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instrument, timeframe, direction, anchor_time, anchor_price, change_pct, fired_at
		FROM events
		WHERE instrument = $1
		ORDER BY fired_at DESC
		LIMIT $2
	`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var tf, dir string
		if err := rows.Scan(&ev.Instrument, &tf, &dir, &ev.AnchorTime, &ev.AnchorPrice, &ev.ChangePct, &ev.FiredAt); err != nil {
			return nil, err
		}
		ev.Timeframe = models.Timeframe(tf)
		ev.Direction = models.Direction(dir)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) MetaGet(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta get: %w", err)
	}
	return value.String, nil
}

func (p *Postgres) MetaSet(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("meta set: %w", err)
	}
	return nil
}
