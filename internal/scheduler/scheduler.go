// Package scheduler drives the scan cycle: outcome evaluation, detection
// across the instrument universe, and alert delivery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpwatch/internal/alert"
	"pumpwatch/internal/detector"
	"pumpwatch/internal/market"
	"pumpwatch/internal/models"
	"pumpwatch/internal/notify"
	"pumpwatch/internal/outcome"
	"pumpwatch/internal/stats"
	"pumpwatch/internal/store"
)

// Settings configures the scan cadence and fan-out.
type Settings struct {
	Timeframes         []models.Timeframe
	ScanPeriod         time.Duration
	Workers            int
	CandleCount        int
	RequestTimeout     time.Duration
	DailyReportHourUTC int
}

// Scheduler owns cadence only; all entity state lives in the store.
type Scheduler struct {
	settings    Settings
	instruments []string
	// universe refreshes the instrument list when no explicit list is
	// configured.
	universe  func(ctx context.Context) ([]string, error)
	detector  *detector.Detector
	evaluator *outcome.Evaluator
	stats     *stats.Aggregator
	store     store.EventStore
	market    market.DataProvider
	sink      notify.Sink
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Scheduler. instruments may be empty when a universe
// function is provided.
func New(settings Settings, instruments []string, universe func(ctx context.Context) ([]string, error),
	det *detector.Detector, eval *outcome.Evaluator, agg *stats.Aggregator,
	st store.EventStore, provider market.DataProvider, sink notify.Sink) *Scheduler {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	return &Scheduler{
		settings:    settings,
		instruments: instruments,
		universe:    universe,
		detector:    det,
		evaluator:   eval,
		stats:       agg,
		store:       st,
		market:      provider,
		sink:        sink,
		logger:      log.With().Str("component", "scheduler").Logger(),
		now:         time.Now,
	}
}

// Run blocks until the context is canceled, scanning on the configured
// period. Cycle-level failures are logged and the next cycle proceeds.
func (s *Scheduler) Run(ctx context.Context) error {
	// The universe is resolved once at startup; the scan list stays fixed
	// for the process lifetime. Restart to pick up newly listed contracts.
	if len(s.instruments) == 0 && s.universe != nil {
		instruments, err := s.universe(ctx)
		if err != nil {
			return fmt.Errorf("selecting instrument universe: %w", err)
		}
		s.instruments = instruments
	}
	if len(s.instruments) == 0 {
		return errors.New("no instruments to scan")
	}

	if err := s.sink.Deliver(ctx, fmt.Sprintf("✅ Watcher started, monitoring <b>%d</b> contracts.", len(s.instruments))); err != nil {
		s.logger.Warn().Err(err).Msg("startup notice delivery failed")
	}

	ticker := time.NewTicker(s.settings.ScanPeriod)
	defer ticker.Stop()

	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle performs one Idle -> Scanning -> Idle transition.
func (s *Scheduler) runCycle(ctx context.Context) {
	now := s.now()
	start := now

	if err := s.evaluator.Run(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("outcome pass failed, continuing with scan")
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.settings.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for instrument := range jobs {
				s.scanInstrument(ctx, instrument, now)
			}
		}()
	}

	for _, instrument := range s.instruments {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- instrument:
		}
	}
	close(jobs)
	wg.Wait()

	s.maybeDailyReport(ctx, now)

	s.logger.Debug().
		Int("instruments", len(s.instruments)).
		Dur("elapsed", s.now().Sub(start)).
		Msg("scan cycle complete")
}

// scanInstrument runs detection for one instrument across all timeframes.
// Failures affect this instrument and cycle only.
func (s *Scheduler) scanInstrument(ctx context.Context, instrument string, now time.Time) {
	for _, tf := range s.settings.Timeframes {
		fetchCtx, cancel := context.WithTimeout(ctx, s.settings.RequestTimeout)
		candles, err := s.market.FetchCandles(fetchCtx, instrument, tf, s.settings.CandleCount)
		cancel()
		if err != nil {
			if errors.Is(err, market.ErrRateLimited) {
				s.logger.Warn().Str("instrument", instrument).Msg("rate limited, skipping this cycle")
			} else {
				s.logger.Error().Err(err).Str("instrument", instrument).Str("timeframe", string(tf)).Msg("candle fetch failed")
			}
			continue
		}

		candles = dropOpenCandle(candles, tf, now)

		fired, err := s.detector.Detect(ctx, instrument, tf, candles, now)
		// Events already inserted before a detection error must still be
		// alerted; a stored-but-silent event would be lost to the user.
		for _, ev := range fired {
			s.deliverAlert(ctx, ev, now)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("instrument", instrument).Str("timeframe", string(tf)).Msg("detection failed")
			continue
		}
	}
}

// dropOpenCandle removes a trailing candle that has not closed yet; the
// detector must only ever see closed bars.
func dropOpenCandle(candles []models.Candle, tf models.Timeframe, now time.Time) []models.Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.OpenTime+tf.Duration().Milliseconds() > now.UnixMilli() {
		return candles[:len(candles)-1]
	}
	return candles
}

func (s *Scheduler) deliverAlert(ctx context.Context, ev models.Event, now time.Time) {
	snap, err := s.stats.Snapshot(ctx, ev.Instrument, ev.Timeframe, ev.Direction, now)
	if err != nil {
		// A failed aggregate must not block the alert; the message
		// renders the insufficient-history line instead.
		s.logger.Error().Err(err).Str("event", ev.Key().String()).Msg("stats snapshot failed")
		snap = models.StatsSnapshot{}
	}

	text := alert.Compose(models.Alert{Event: ev, Stats: snap})
	if err := s.sink.Deliver(ctx, text); err != nil {
		s.logger.Error().Err(err).Str("event", ev.Key().String()).Msg("alert delivery failed")
		return
	}

	s.logger.Info().
		Str("event", ev.Key().String()).
		Float64("change_pct", ev.ChangePct).
		Msg("alert delivered")
}

const dailyReportMetaKey = "daily_report_date"

// maybeDailyReport sends the 24h summary once per day at the configured
// UTC hour; the store's meta table de-duplicates across restarts.
func (s *Scheduler) maybeDailyReport(ctx context.Context, now time.Time) {
	utc := now.UTC()
	if utc.Hour() != s.settings.DailyReportHourUTC {
		return
	}

	today := utc.Format("2006-01-02")
	sent, err := s.store.MetaGet(ctx, dailyReportMetaKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("daily report state read failed")
		return
	}
	if sent == today {
		return
	}

	pumps, dumps, err := s.store.CountByDirectionSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("daily report count failed")
		return
	}

	text := alert.ComposeDailyReport(pumps, dumps, utc.Format("2006-01-02 15:04"))
	if err := s.sink.Deliver(ctx, text); err != nil {
		s.logger.Error().Err(err).Msg("daily report delivery failed")
		return
	}
	if err := s.store.MetaSet(ctx, dailyReportMetaKey, today); err != nil {
		s.logger.Error().Err(err).Msg("daily report state write failed")
	}
}
