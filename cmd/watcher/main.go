package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpwatch/internal/config"
	"pumpwatch/internal/detector"
	"pumpwatch/internal/indicators"
	"pumpwatch/internal/market/bybit"
	"pumpwatch/internal/models"
	"pumpwatch/internal/notify"
	"pumpwatch/internal/outcome"
	"pumpwatch/internal/scheduler"
	"pumpwatch/internal/stats"
	"pumpwatch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration failed")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()

	eventStore := buildStore(cfg)
	provider := bybit.NewClient(bybit.ClientOptions{
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		RequestsPerSec: cfg.RequestsPerSec,
	})

	det := detector.New(detector.Settings{
		Indicators: indicators.Config{
			RSIPeriod:           cfg.RSIPeriod,
			EMAPeriod:           cfg.EMAPeriod,
			BollingerPeriod:     cfg.BBPeriod,
			BollingerMultiplier: cfg.BBStdDev,
			VolumeZPeriod:       cfg.VolumeZPeriod,
		},
		Thresholds:      detectorThresholds(cfg),
		RSIOverbought:   cfg.RSIOverbought,
		RSIOversold:     cfg.RSIOversold,
		MinBodyFraction: cfg.MinBodyFraction,
		VolumeZFloor:    cfg.VolumeZFloor,
		CooldownBars:    cfg.CooldownBars,
		PumpPriority:    cfg.PumpPriority,
	}, eventStore)

	eval := outcome.New(outcome.Settings{
		MinAge:   time.Duration(cfg.MinOutcomeAgeMinutes) * time.Minute,
		Horizons: cfg.OutcomeHorizons,
	}, provider, eventStore)

	agg := stats.New(eventStore, time.Duration(cfg.LookbackDays)*24*time.Hour)

	sink, tg := buildSink(cfg)

	universe := func(ctx context.Context) ([]string, error) {
		return provider.SelectUniverse(ctx, bybit.UniverseFilter{
			MinQuoteVolume24h: cfg.MinQuoteVolume24h,
			MinLastPrice:      cfg.MinLastPrice,
			MaxInstruments:    cfg.MaxInstruments,
		})
	}

	sched := scheduler.New(scheduler.Settings{
		Timeframes:         cfg.Timeframes,
		ScanPeriod:         time.Duration(cfg.ScanPeriodSeconds) * time.Second,
		Workers:            cfg.Workers,
		CandleCount:        cfg.CandleCount,
		RequestTimeout:     time.Duration(cfg.RequestTimeout) * time.Second,
		DailyReportHourUTC: cfg.DailyReportHourUTC,
	}, cfg.Instruments, universe, det, eval, agg, eventStore, provider, sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if tg != nil {
		go notify.NewCommands(tg, eventStore).Run(ctx)
	}

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("scheduler stopped")
	}
	log.Info().Msg("shutdown complete")
}

func buildStore(cfg *config.Config) store.EventStore {
	if cfg.DBHost == "" {
		log.Warn().Msg("DB_HOST not set, using in-memory event store; events will not survive a restart")
		return store.NewMemory()
	}

	pg, err := store.NewPostgres(store.ConnectionParams{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to Postgres failed")
	}
	return pg
}

func buildSink(cfg *config.Config) (notify.Sink, *notify.Telegram) {
	var sinks notify.Multi
	var tg *notify.Telegram

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		var err error
		tg, err = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("initializing telegram sink failed")
		}
		sinks = append(sinks, tg)
	}

	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic))
	}

	if len(sinks) == 0 {
		log.Fatal().Msg("no notification sink configured; set TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID or KAFKA_BROKERS")
	}
	return sinks, tg
}

func detectorThresholds(cfg *config.Config) map[models.Timeframe]detector.Thresholds {
	out := make(map[models.Timeframe]detector.Thresholds, len(cfg.Thresholds))
	for tf, th := range cfg.Thresholds {
		out[tf] = detector.Thresholds{PumpPct: th.PumpPct, DumpPct: th.DumpPct}
	}
	return out
}
