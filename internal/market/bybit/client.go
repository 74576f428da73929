// Package bybit implements the market.DataProvider boundary over the Bybit
// v5 public REST API for linear USDT perpetuals.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpwatch/internal/market"
	"pumpwatch/internal/models"
	httpclient "pumpwatch/internal/platform/http"
)

const defaultBaseURL = "https://api.bybit.com"

// retCodeRateLimited is Bybit's "too many visits" application-level code.
const retCodeRateLimited = 10006

// Client is the Bybit v5 market-data client.
type Client struct {
	baseURL    string
	httpClient *httpclient.Client
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new Bybit client.
type ClientOptions struct {
	BaseURL        string
	RequestTimeout time.Duration
	RequestsPerSec int
}

// NewClient creates a new Bybit market-data client.
func NewClient(options ClientOptions) *Client {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		httpClient: httpclient.NewClient(httpclient.ClientOptions{
			Timeout:        options.RequestTimeout,
			RequestsPerSec: options.RequestsPerSec,
		}),
		logger: log.With().Str("component", "bybit_client").Logger(),
	}
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

type tickersResult struct {
	List []struct {
		Symbol     string `json:"symbol"`
		LastPrice  string `json:"lastPrice"`
		Turnover24 string `json:"turnover24h"`
	} `json:"list"`
}

// intervalParam maps a timeframe to Bybit's kline interval parameter.
func intervalParam(tf models.Timeframe) string {
	return strconv.Itoa(tf.Minutes())
}

// FetchCandles fetches up to limit closed candles, ascending by open time.
func (c *Client) FetchCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	url := fmt.Sprintf(
		"%s/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d",
		c.baseURL, instrument, intervalParam(tf), limit,
	)

	result, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var kl klineResult
	if err := json.Unmarshal(result, &kl); err != nil {
		return nil, fmt.Errorf("parsing kline result: %w", err)
	}

	candles := make([]models.Candle, 0, len(kl.List))
	for _, row := range kl.List {
		if len(row) < 6 {
			continue
		}
		candle, err := parseKlineRow(row)
		if err != nil {
			c.logger.Warn().Err(err).Str("instrument", instrument).Msg("skipping malformed kline row")
			continue
		}
		candles = append(candles, candle)
	}

	// Bybit returns newest first; callers need ascending open time.
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime < candles[j].OpenTime
	})

	c.logger.Debug().
		Str("instrument", instrument).
		Str("timeframe", string(tf)).
		Int("count", len(candles)).
		Msg("fetched candles")
	return candles, nil
}

func parseKlineRow(row []string) (models.Candle, error) {
	openTime, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}
	fields := make([]float64, 5)
	for i := 0; i < 5; i++ {
		fields[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return models.Candle{
		OpenTime: openTime,
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

// FetchInstrumentSummary returns the latest ticker view for one instrument.
func (c *Client) FetchInstrumentSummary(ctx context.Context, instrument string) (models.InstrumentSummary, error) {
	url := fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s", c.baseURL, instrument)

	result, err := c.get(ctx, url)
	if err != nil {
		return models.InstrumentSummary{}, err
	}

	var tk tickersResult
	if err := json.Unmarshal(result, &tk); err != nil {
		return models.InstrumentSummary{}, fmt.Errorf("parsing tickers result: %w", err)
	}
	if len(tk.List) == 0 {
		return models.InstrumentSummary{}, fmt.Errorf("no ticker returned for %s", instrument)
	}

	last, _ := strconv.ParseFloat(tk.List[0].LastPrice, 64)
	turnover, _ := strconv.ParseFloat(tk.List[0].Turnover24, 64)
	return models.InstrumentSummary{
		Instrument:     tk.List[0].Symbol,
		LastPrice:      last,
		QuoteVolume24h: turnover,
	}, nil
}

// UniverseFilter is the liquidity filter applied when no explicit
// instrument list is configured.
type UniverseFilter struct {
	MinQuoteVolume24h float64
	MinLastPrice      float64
	MaxInstruments    int
}

// leveragedTags appear in the base of leveraged-token listings, which are
// excluded from the scan universe.
var leveragedTags = []string{"UP", "DOWN", "3L", "3S", "4L", "4S"}

// SelectUniverse returns the USDT perpetual symbols passing the liquidity
// filter, most liquid first.
func (c *Client) SelectUniverse(ctx context.Context, filter UniverseFilter) ([]string, error) {
	url := fmt.Sprintf("%s/v5/market/tickers?category=linear", c.baseURL)

	result, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var tk tickersResult
	if err := json.Unmarshal(result, &tk); err != nil {
		return nil, fmt.Errorf("parsing tickers result: %w", err)
	}

	type liquid struct {
		symbol   string
		turnover float64
	}
	var picked []liquid
	for _, t := range tk.List {
		if !strings.HasSuffix(t.Symbol, "USDT") {
			continue
		}
		base := strings.TrimSuffix(t.Symbol, "USDT")
		if hasLeveragedTag(base) {
			continue
		}
		last, _ := strconv.ParseFloat(t.LastPrice, 64)
		turnover, _ := strconv.ParseFloat(t.Turnover24, 64)
		if turnover < filter.MinQuoteVolume24h || last < filter.MinLastPrice {
			continue
		}
		picked = append(picked, liquid{symbol: t.Symbol, turnover: turnover})
	}

	sort.Slice(picked, func(i, j int) bool {
		return picked[i].turnover > picked[j].turnover
	})
	if filter.MaxInstruments > 0 && len(picked) > filter.MaxInstruments {
		picked = picked[:filter.MaxInstruments]
	}

	symbols := make([]string, len(picked))
	for i, p := range picked {
		symbols[i] = p.symbol
	}

	c.logger.Info().Int("count", len(symbols)).Msg("selected instrument universe")
	return symbols, nil
}

func hasLeveragedTag(base string) bool {
	for _, tag := range leveragedTags {
		if strings.HasSuffix(base, tag) {
			return true
		}
	}
	return false
}

// get performs a GET request and unwraps the Bybit envelope, mapping rate
// limit conditions to market.ErrRateLimited.
func (c *Client) get(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		if httpclient.IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %s", market.ErrRateLimited, url)
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if env.RetCode == retCodeRateLimited {
		return nil, fmt.Errorf("%w: %s", market.ErrRateLimited, env.RetMsg)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit API error %d: %s", env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}
