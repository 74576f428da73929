package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"pumpwatch/internal/models"
)

// Thresholds are the percent-move trigger levels for one timeframe, both
// stated as positive numbers.
type Thresholds struct {
	PumpPct float64
	DumpPct float64
}

// Config holds all application configuration. Every component receives the
// values it needs explicitly; nothing reads the environment at runtime.
type Config struct {
	Instruments     []string // empty means auto-select by liquidity
	Timeframes      []models.Timeframe
	Thresholds      map[models.Timeframe]Thresholds
	CooldownBars    int
	PumpPriority    bool
	MinBodyFraction float64

	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	EMAPeriod     int
	BBPeriod      int
	BBStdDev      float64
	VolumeZPeriod int
	VolumeZFloor  float64

	MinOutcomeAgeMinutes int
	OutcomeHorizons      []int
	LookbackDays         int

	ScanPeriodSeconds int
	Workers           int
	CandleCount       int
	RequestTimeout    int // seconds
	RequestsPerSec    int

	MinQuoteVolume24h float64
	MinLastPrice      float64
	MaxInstruments    int

	DailyReportHourUTC int

	TelegramBotToken string
	TelegramChatID   int64
	KafkaBrokers     []string
	KafkaTopic       string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	LogLevel string
}

// Load initializes configuration from environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	cfg := &Config{
		CooldownBars:    getEnvIntWithDefault("COOLDOWN_BARS", 5),
		PumpPriority:    getEnvBoolWithDefault("PUMP_PRIORITY", true),
		MinBodyFraction: getEnvFloatWithDefault("MIN_BODY_FRACTION", 0.6),

		RSIPeriod:     getEnvIntWithDefault("RSI_PERIOD", 14),
		RSIOverbought: getEnvFloatWithDefault("RSI_OVERBOUGHT", 70),
		RSIOversold:   getEnvFloatWithDefault("RSI_OVERSOLD", 30),
		EMAPeriod:     getEnvIntWithDefault("EMA_PERIOD", 20),
		BBPeriod:      getEnvIntWithDefault("BB_PERIOD", 20),
		BBStdDev:      getEnvFloatWithDefault("BB_STD_DEV", 2.0),
		VolumeZPeriod: getEnvIntWithDefault("VOLUME_Z_PERIOD", 20),
		VolumeZFloor:  getEnvFloatWithDefault("VOLUME_Z_FLOOR", 2.0),

		MinOutcomeAgeMinutes: getEnvIntWithDefault("MIN_OUTCOME_AGE_MIN", 60),
		LookbackDays:         getEnvIntWithDefault("LOOKBACK_DAYS", 30),

		ScanPeriodSeconds: getEnvIntWithDefault("SCAN_PERIOD_SEC", 60),
		Workers:           getEnvIntWithDefault("WORKERS", 8),
		CandleCount:       getEnvIntWithDefault("CANDLE_COUNT", 100),
		RequestTimeout:    getEnvIntWithDefault("REQUEST_TIMEOUT", 20),
		RequestsPerSec:    getEnvIntWithDefault("REQUESTS_PER_SEC", 5),

		MinQuoteVolume24h: getEnvFloatWithDefault("MIN_24H_QUOTE_VOLUME_USDT", 500000),
		MinLastPrice:      getEnvFloatWithDefault("MIN_LAST_PRICE_USDT", 0.002),
		MaxInstruments:    getEnvIntWithDefault("MAX_INSTRUMENTS", 200),

		DailyReportHourUTC: getEnvIntWithDefault("DAILY_REPORT_HOUR_UTC", 6),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		KafkaTopic:       getEnvWithDefault("KAFKA_TOPIC", "pump-alerts"),

		DBHost:     getEnvWithDefault("DB_HOST", ""),
		DBPort:     getEnvWithDefault("DB_PORT", "5432"),
		DBUser:     getEnvWithDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnvWithDefault("DB_NAME", "pumpwatch"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	if instruments := os.Getenv("INSTRUMENTS"); instruments != "" {
		cfg.Instruments = splitList(instruments)
	}

	for _, raw := range splitList(getEnvWithDefault("TIMEFRAMES", "5m,15m")) {
		tf, err := models.ParseTimeframe(raw)
		if err != nil {
			return nil, err
		}
		cfg.Timeframes = append(cfg.Timeframes, tf)
	}

	cfg.Thresholds = make(map[models.Timeframe]Thresholds, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		cfg.Thresholds[tf] = Thresholds{
			PumpPct: getEnvFloatWithDefault(thresholdEnvName(tf, false), defaultThreshold(tf)),
			DumpPct: getEnvFloatWithDefault(thresholdEnvName(tf, true), defaultThreshold(tf)),
		}
	}

	for _, raw := range splitList(getEnvWithDefault("OUTCOME_HORIZONS", "5,15,30,60")) {
		h, err := strconv.Atoi(raw)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid OUTCOME_HORIZONS entry %q", raw)
		}
		cfg.OutcomeHorizons = append(cfg.OutcomeHorizons, h)
	}

	return cfg, nil
}

// thresholdEnvName keeps the historical names: THRESH_5M_PCT for pumps,
// THRESH_5M_DROP_PCT for dumps.
func thresholdEnvName(tf models.Timeframe, drop bool) string {
	name := "THRESH_" + strings.ToUpper(string(tf))
	if drop {
		name += "_DROP"
	}
	return name + "_PCT"
}

func defaultThreshold(tf models.Timeframe) float64 {
	if tf.Minutes() >= 15 {
		return 12
	}
	return 6
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
