// Package monitor drives scans and movement-monitor cycles: it fetches
// markets, hands them to the scorer or detector, and routes the results to
// the console, report files, storage and notifications.
package monitor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/rewired-gh/kalshioracle/internal/kalshi"
	"github.com/rewired-gh/kalshioracle/internal/logger"
	"github.com/rewired-gh/kalshioracle/internal/metrics"
	"github.com/rewired-gh/kalshioracle/internal/models"
	"github.com/rewired-gh/kalshioracle/internal/movement"
	"github.com/rewired-gh/kalshioracle/internal/report"
)

// MarketSource lists markets and their candle history.
type MarketSource interface {
	FetchMarkets(ctx context.Context, q kalshi.MarketQuery) ([]models.MarketSnapshot, error)
	FetchCandles(ctx context.Context, q kalshi.CandleQuery) ([]models.Candle, error)
}

// Notifier delivers movement alerts and cycle health messages.
type Notifier interface {
	SendMovements(groups []models.FixtureGroup) error
	SendError(cycleErr error) error
	SendRecovery(failureCount int) error
}

// Recorder persists scan and monitor results.
type Recorder interface {
	SaveSignals(runID string, signals []models.MarketSignal, at time.Time) error
	SaveAlerts(alerts []models.MovementAlert, at time.Time) ([]string, error)
	MarkNotified(ids []string) error
	Rotate(retention time.Duration) (int64, error)
}

type Config struct {
	Series             []string
	MaxMarkets         int
	Thresholds         movement.Thresholds
	MaxSpreadCents     float64
	Concurrency        int
	PollInterval       time.Duration
	CooldownMultiplier int
	TopK               int
	OutputDir          string
	Retention          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Series:             []string{"KXEPLGAME", "KXEPLBTTS", "KXEPLTOTAL", "KXEPLSPREAD"},
		MaxMarkets:         500,
		Thresholds:         movement.DefaultThresholds(),
		MaxSpreadCents:     20,
		Concurrency:        8,
		PollInterval:       15 * time.Minute,
		CooldownMultiplier: 4,
		TopK:               10,
		OutputDir:          "./output",
	}
}

// CycleResult summarizes one monitor cycle.
type CycleResult struct {
	Fetched    int
	Candidates int
	Alerts     []models.MovementAlert
	Groups     []models.FixtureGroup
	Notified   int
	ReportPath string
}

type notifiedRecord struct {
	Direction string
	Magnitude float64
	SentAt    time.Time
}

// Monitor runs movement-detection cycles over a fixed set of series.
type Monitor struct {
	source          MarketSource
	renderer        report.Renderer
	out             io.Writer
	recorder        Recorder
	notifier        Notifier
	notifiedMarkets map[string]notifiedRecord
	config          Config
	now             func() time.Time
}

func New(source MarketSource, renderer report.Renderer, out io.Writer, config Config) *Monitor {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Monitor{
		source:          source,
		renderer:        renderer,
		out:             out,
		notifiedMarkets: make(map[string]notifiedRecord),
		config:          config,
		now:             time.Now,
	}
}

// WithRecorder enables persistence of detected alerts.
func (m *Monitor) WithRecorder(r Recorder) *Monitor {
	m.recorder = r
	return m
}

// WithNotifier enables delivery of grouped alerts.
func (m *Monitor) WithNotifier(n Notifier) *Monitor {
	m.notifier = n
	return m
}

// Cooldown is how long a notified market stays quiet unless its move grows.
func (m *Monitor) Cooldown() time.Duration {
	return time.Duration(m.config.CooldownMultiplier) * m.config.PollInterval
}

// SeedNotified restores cooldown state from previously notified alerts.
func (m *Monitor) SeedNotified(last map[string]models.StoredAlert) {
	for ticker, st := range last {
		m.notifiedMarkets[ticker] = notifiedRecord{
			Direction: alertDirection(st.Alert.Alerts),
			Magnitude: st.Alert.Magnitude,
			SentAt:    st.DetectedAt,
		}
	}
}

// RunCycle fetches every configured series, detects movements and routes them.
// A candle failure for one market is logged and the market skipped; the cycle
// only fails when no series could be fetched or ctx is cancelled.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("monitor").Observe(time.Since(start).Seconds())
	}()

	res, err := m.runCycle(ctx, m.now())
	if err != nil {
		metrics.CycleFailures.WithLabelValues("monitor").Inc()
		return nil, err
	}
	rotate(m.recorder, m.config.Retention)
	return res, nil
}

// rotate drops persisted rows older than retention. A non-positive retention
// keeps everything.
func rotate(r Recorder, retention time.Duration) {
	if r == nil || retention <= 0 {
		return
	}
	if n, err := r.Rotate(retention); err != nil {
		logger.Warn("Failed to rotate storage: %v", err)
	} else if n > 0 {
		logger.Debug("Rotated %d expired rows", n)
	}
}

func (m *Monitor) runCycle(ctx context.Context, now time.Time) (*CycleResult, error) {
	markets, err := m.fetchSeries(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Fetched %d markets from %d series", len(markets), len(m.config.Series))

	candidates := m.candidates(markets)
	metrics.MarketsEvaluated.WithLabelValues("monitor").Add(float64(len(candidates)))
	logger.Debug("%d markets pass the spread prefilter", len(candidates))

	alerts, err := m.detect(ctx, candidates, now)
	if err != nil {
		return nil, err
	}
	metrics.SignalsEmitted.WithLabelValues("movement").Add(float64(len(alerts)))

	res := &CycleResult{
		Fetched:    len(markets),
		Candidates: len(candidates),
		Alerts:     alerts,
		Groups:     report.GroupByFixture(alerts),
	}

	if len(alerts) == 0 {
		logger.Info("No movements detected this cycle")
		return res, nil
	}
	logger.Info("Detected %d movements across %d fixtures", len(alerts), len(res.Groups))

	if err := m.renderer.RenderMovements(m.out, res.Groups, now); err != nil {
		logger.Warn("Failed to render movements: %v", err)
	}

	if path, err := report.WriteMovements(m.config.OutputDir, alerts, now); err != nil {
		logger.Error("Failed to write movement report: %v", err)
	} else {
		res.ReportPath = path
		logger.Info("Movement report saved to %s", path)
	}

	ids := m.record(alerts, now)
	res.Notified = m.notify(res.Groups, ids, now)
	return res, nil
}

func (m *Monitor) fetchSeries(ctx context.Context) ([]models.MarketSnapshot, error) {
	var markets []models.MarketSnapshot
	var lastErr error
	failed := 0
	for _, series := range m.config.Series {
		batch, err := m.source.FetchMarkets(ctx, kalshi.MarketQuery{
			Status:       "open",
			SeriesTicker: series,
			MaxMarkets:   m.config.MaxMarkets,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			lastErr = err
			metrics.FetchFailures.WithLabelValues("markets").Inc()
			logger.Warn("Failed to fetch series %s: %v", series, err)
			continue
		}
		markets = append(markets, batch...)
	}
	if failed > 0 && failed == len(m.config.Series) {
		return nil, fmt.Errorf("failed to fetch markets: %w", lastErr)
	}
	return markets, nil
}

// candidates keeps markets that belong to a series and quote a book tight
// enough to trust before any candles are fetched.
func (m *Monitor) candidates(markets []models.MarketSnapshot) []models.MarketSnapshot {
	out := make([]models.MarketSnapshot, 0, len(markets))
	for _, mk := range markets {
		if mk.SeriesTicker() == "" || !mk.HasTwoSidedPricing() {
			continue
		}
		if m.config.MaxSpreadCents > 0 && mk.Spread() > m.config.MaxSpreadCents {
			continue
		}
		out = append(out, mk)
	}
	return out
}

func (m *Monitor) detect(ctx context.Context, markets []models.MarketSnapshot, now time.Time) ([]models.MovementAlert, error) {
	type indexed struct {
		idx   int
		alert *models.MovementAlert
	}

	endTS := now.Unix()
	startTS := endTS - int64(m.config.Thresholds.LongHours)*3600

	p := pool.NewWithResults[indexed]().WithContext(ctx).WithMaxGoroutines(m.config.Concurrency)
	for i := range markets {
		p.Go(func(ctx context.Context) (indexed, error) {
			mk := markets[i]
			candles, err := m.source.FetchCandles(ctx, kalshi.CandleQuery{
				SeriesTicker: mk.SeriesTicker(),
				MarketTicker: mk.Ticker,
				StartTS:      startTS,
				EndTS:        endTS,
			})
			if err != nil {
				if ctx.Err() != nil {
					return indexed{}, ctx.Err()
				}
				metrics.FetchFailures.WithLabelValues("candles").Inc()
				logger.Warn("Skipping %s: failed to fetch candles: %v", mk.Ticker, err)
				return indexed{idx: i}, nil
			}
			alert, ok := movement.DetectMovements(mk, candles, m.config.Thresholds)
			if !ok {
				return indexed{idx: i}, nil
			}
			return indexed{idx: i, alert: alert}, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("movement detection interrupted: %w", err)
	}

	sort.Slice(results, func(a, b int) bool { return results[a].idx < results[b].idx })
	alerts := make([]models.MovementAlert, 0)
	for _, r := range results {
		if r.alert != nil {
			alerts = append(alerts, *r.alert)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Magnitude > alerts[j].Magnitude
	})
	return alerts, nil
}

// record saves alerts and returns their storage IDs keyed by ticker.
func (m *Monitor) record(alerts []models.MovementAlert, now time.Time) map[string]string {
	if m.recorder == nil {
		return nil
	}
	ids, err := m.recorder.SaveAlerts(alerts, now)
	if err != nil {
		logger.Warn("Failed to save movement alerts: %v", err)
		return nil
	}
	byTicker := make(map[string]string, len(ids))
	for i, id := range ids {
		byTicker[alerts[i].Ticker] = id
	}
	return byTicker
}

func (m *Monitor) notify(groups []models.FixtureGroup, ids map[string]string, now time.Time) int {
	if m.notifier == nil {
		logger.Debug("Movements detected but notifications are disabled")
		return 0
	}

	groups = report.TopGroups(groups, m.config.TopK)
	groups = m.FilterRecentlySent(groups, m.Cooldown(), now)
	if len(groups) == 0 {
		logger.Info("All movements are within their notification cooldown")
		return 0
	}

	if err := m.notifier.SendMovements(groups); err != nil {
		logger.Error("Failed to send movement notification: %v", err)
		return 0
	}
	m.RecordNotified(groups, now)

	var sent []string
	count := 0
	for _, g := range groups {
		for _, a := range g.Alerts {
			count++
			if id, ok := ids[a.Ticker]; ok {
				sent = append(sent, id)
			}
		}
	}
	if m.recorder != nil && len(sent) > 0 {
		if err := m.recorder.MarkNotified(sent); err != nil {
			logger.Warn("Failed to mark alerts notified: %v", err)
		}
	}
	logger.Info("Sent notification for %d fixtures (%d markets)", len(groups), count)
	return count
}

// alertDirection reports the sign of the first price move in an alert's
// messages, or "volume" when it only carries a volume spike.
func alertDirection(alerts []string) string {
	for _, a := range alerts {
		switch {
		case strings.HasPrefix(a, "price +"):
			return "up"
		case strings.HasPrefix(a, "price -"):
			return "down"
		}
	}
	return "volume"
}

// FilterRecentlySent drops markets notified within cooldown whose move keeps
// the same direction without growing. Groups left empty are removed.
func (m *Monitor) FilterRecentlySent(groups []models.FixtureGroup, cooldown time.Duration, now time.Time) []models.FixtureGroup {
	var result []models.FixtureGroup

	for _, group := range groups {
		var filtered []models.MovementAlert

		for _, alert := range group.Alerts {
			rec, exists := m.notifiedMarkets[alert.Ticker]

			if exists && now.Sub(rec.SentAt) < cooldown {
				sameDirection := rec.Direction == alertDirection(alert.Alerts)
				grown := alert.Magnitude > rec.Magnitude

				if sameDirection && !grown {
					continue
				}
			}

			filtered = append(filtered, alert)
		}

		if len(filtered) > 0 {
			newGroup := group
			newGroup.Alerts = filtered
			newGroup.BestMagnitude = 0
			for _, a := range filtered {
				if a.Magnitude > newGroup.BestMagnitude {
					newGroup.BestMagnitude = a.Magnitude
				}
			}
			result = append(result, newGroup)
		}
	}

	return result
}

func (m *Monitor) RecordNotified(groups []models.FixtureGroup, now time.Time) {
	for _, group := range groups {
		for _, alert := range group.Alerts {
			m.notifiedMarkets[alert.Ticker] = notifiedRecord{
				Direction: alertDirection(alert.Alerts),
				Magnitude: alert.Magnitude,
				SentAt:    now,
			}
		}
	}
}
