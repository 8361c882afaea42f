// Package kalshi provides read access to the Kalshi trade API: open markets and candlesticks.
package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/kalshioracle/internal/logger"
	"github.com/rewired-gh/kalshioracle/internal/metrics"
	"github.com/rewired-gh/kalshioracle/internal/models"
)

// Client provides access to the Kalshi REST API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	signer       *Signer
	maxRetries   int
	pageLimit    int
	candlePeriod int
}

// ClientConfig holds optional client tuning. Zero values select defaults.
type ClientConfig struct {
	MaxRetries        int
	RequestsPerSecond float64
	PageLimit         int
	CandlePeriod      int
	Signer            *Signer
}

// MarketQuery selects markets from /markets.
type MarketQuery struct {
	Status       string
	SeriesTicker string
	MaxCloseTS   int64
	MaxMarkets   int
}

// CandleQuery selects a candlestick window for one market.
type CandleQuery struct {
	SeriesTicker string
	MarketTicker string
	StartTS      int64
	EndTS        int64
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kalshi API returned %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether another attempt could succeed.
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type marketsResponse struct {
	Markets []models.MarketSnapshot `json:"markets"`
	Cursor  string                  `json:"cursor"`
}

type candlesticksResponse struct {
	Ticker       string      `json:"ticker"`
	Candlesticks []apiCandle `json:"candlesticks"`
}

type apiCandle struct {
	EndPeriodTS int64    `json:"end_period_ts"`
	YesBid      apiQuote `json:"yes_bid"`
	YesAsk      apiQuote `json:"yes_ask"`
	Volume      int64    `json:"volume"`
}

type apiQuote struct {
	Close *float64 `json:"close"`
}

func (c apiCandle) toModel() models.Candle {
	vol := c.Volume
	if vol < 0 {
		vol = 0
	}
	return models.Candle{
		EndPeriodTS: c.EndPeriodTS,
		YesBidClose: c.YesBid.Close,
		YesAskClose: c.YesAsk.Close,
		Volume:      vol,
	}
}

// NewClient creates a new Kalshi client
func NewClient(baseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.PageLimit <= 0 || cfg.PageLimit > 1000 {
		cfg.PageLimit = 1000
	}
	if cfg.CandlePeriod <= 0 {
		cfg.CandlePeriod = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "kalshi-candles",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A 4xx for one market says nothing about upstream health.
			var se *StatusError
			if errors.As(err, &se) {
				return !se.retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker:      breaker,
		signer:       cfg.Signer,
		maxRetries:   cfg.MaxRetries,
		pageLimit:    cfg.PageLimit,
		candlePeriod: cfg.CandlePeriod,
	}
}

// FetchMarkets pages through /markets and returns at most q.MaxMarkets snapshots.
// Snapshots that fail validation are dropped.
// A zero MaxMarkets means no cap.
func (c *Client) FetchMarkets(ctx context.Context, q MarketQuery) ([]models.MarketSnapshot, error) {
	status := q.Status
	if status == "" {
		status = "open"
	}

	var markets []models.MarketSnapshot
	cursor := ""
	page := 0
	for {
		params := url.Values{}
		params.Set("status", status)
		params.Set("limit", strconv.Itoa(c.pageLimit))
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		if q.SeriesTicker != "" {
			params.Set("series_ticker", q.SeriesTicker)
		}
		if q.MaxCloseTS > 0 {
			params.Set("max_close_ts", strconv.FormatInt(q.MaxCloseTS, 10))
		}

		var resp marketsResponse
		if err := c.getJSON(ctx, "markets", "/markets", params, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch markets page %d: %w", page+1, err)
		}
		for _, m := range resp.Markets {
			m = m.Normalize()
			if err := m.Validate(); err != nil {
				logger.Debug("Skipping invalid market %q: %v", m.Ticker, err)
				metrics.FetchFailures.WithLabelValues("invalid_market").Inc()
				continue
			}
			markets = append(markets, m)
		}
		page++
		logger.Debug("Fetched markets page %d (%d markets so far)", page, len(markets))

		cursor = resp.Cursor
		if cursor == "" || (q.MaxMarkets > 0 && len(markets) >= q.MaxMarkets) {
			break
		}
	}

	if q.MaxMarkets > 0 && len(markets) > q.MaxMarkets {
		markets = markets[:q.MaxMarkets]
	}
	return markets, nil
}

// FetchCandles retrieves the market's candlesticks for the query window.
// Requests go through a circuit breaker so a failing upstream is not hammered
// once per market.
func (c *Client) FetchCandles(ctx context.Context, q CandleQuery) ([]models.Candle, error) {
	if q.SeriesTicker == "" || q.MarketTicker == "" {
		return nil, fmt.Errorf("series and market ticker are required")
	}

	params := url.Values{}
	params.Set("start_ts", strconv.FormatInt(q.StartTS, 10))
	params.Set("end_ts", strconv.FormatInt(q.EndTS, 10))
	params.Set("period_interval", strconv.Itoa(c.candlePeriod))
	path := fmt.Sprintf("/series/%s/markets/%s/candlesticks",
		url.PathEscape(q.SeriesTicker), url.PathEscape(q.MarketTicker))

	out, err := c.breaker.Execute(func() (interface{}, error) {
		var resp candlesticksResponse
		if err := c.getJSON(ctx, "candlesticks", path, params, &resp); err != nil {
			return nil, err
		}
		return resp.Candlesticks, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", q.MarketTicker, err)
	}

	raw := out.([]apiCandle)
	candles := make([]models.Candle, 0, len(raw))
	for _, rc := range raw {
		candles = append(candles, rc.toModel())
	}
	return candles, nil
}

// getJSON performs a paced, signed GET with exponential-backoff retry and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	u.RawQuery = params.Encode()

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.signer != nil {
			headers, err := c.signer.Headers(http.MethodGet, u.Path, time.Now())
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to sign request: %w", err))
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		metrics.APIRequests.WithLabelValues(endpoint, statusClass(resp.StatusCode)).Inc()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			se := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 200)}
			if se.retryable() {
				return se
			}
			return backoff.Permanent(se)
		}
		body = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		metrics.FetchFailures.WithLabelValues(endpoint).Inc()
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
