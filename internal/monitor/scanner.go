package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/kalshioracle/internal/analyzer"
	"github.com/rewired-gh/kalshioracle/internal/kalshi"
	"github.com/rewired-gh/kalshioracle/internal/logger"
	"github.com/rewired-gh/kalshioracle/internal/metrics"
	"github.com/rewired-gh/kalshioracle/internal/models"
	"github.com/rewired-gh/kalshioracle/internal/report"
)

// SignalNotifier delivers the top anomaly signals of a scan.
type SignalNotifier interface {
	SendSignals(signals []models.MarketSignal) error
}

type ScanConfig struct {
	Options     analyzer.Options
	MaxMarkets  int
	ResolveDays int
	Workers     int
	TopN        int
	NotifyTopK  int
	OutputDir   string
	Retention   time.Duration
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Options:     analyzer.DefaultOptions(),
		MaxMarkets:  10000,
		ResolveDays: 7,
		Workers:     4,
		TopN:        20,
		NotifyTopK:  10,
		OutputDir:   "./output",
	}
}

// ScanResult summarizes one scan run.
type ScanResult struct {
	RunID      string
	Fetched    int
	Eligible   int
	Signals    []models.MarketSignal
	ReportPath string
}

// Scanner runs one-shot anomaly scans over all open markets.
type Scanner struct {
	source   MarketSource
	renderer report.Renderer
	out      io.Writer
	recorder Recorder
	notifier SignalNotifier
	config   ScanConfig
	now      func() time.Time
}

func NewScanner(source MarketSource, renderer report.Renderer, out io.Writer, config ScanConfig) *Scanner {
	return &Scanner{
		source:   source,
		renderer: renderer,
		out:      out,
		config:   config,
		now:      time.Now,
	}
}

// WithRecorder enables persistence of scan signals.
func (s *Scanner) WithRecorder(r Recorder) *Scanner {
	s.recorder = r
	return s
}

// WithNotifier enables delivery of the top signals.
func (s *Scanner) WithNotifier(n SignalNotifier) *Scanner {
	s.notifier = n
	return s
}

// Run fetches open markets, keeps those resolving within the configured
// window, scores them and routes the ranked signals.
func (s *Scanner) Run(ctx context.Context) (*ScanResult, error) {
	now := s.now()
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("scan").Observe(time.Since(start).Seconds())
	}()

	res, err := s.run(ctx, now)
	if err != nil {
		metrics.CycleFailures.WithLabelValues("scan").Inc()
		return nil, err
	}
	rotate(s.recorder, s.config.Retention)
	return res, nil
}

func (s *Scanner) run(ctx context.Context, now time.Time) (*ScanResult, error) {
	q := kalshi.MarketQuery{Status: "open", MaxMarkets: s.config.MaxMarkets}
	window := time.Duration(s.config.ResolveDays) * 24 * time.Hour
	if s.config.ResolveDays > 0 {
		q.MaxCloseTS = now.Add(window).Unix()
	}

	markets, err := s.source.FetchMarkets(ctx, q)
	if err != nil {
		metrics.FetchFailures.WithLabelValues("markets").Inc()
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	logger.Info("%d open markets retrieved", len(markets))

	eligible := markets
	if s.config.ResolveDays > 0 {
		eligible = make([]models.MarketSnapshot, 0, len(markets))
		for _, mk := range markets {
			if mk.ClosesWithin(now, window) {
				eligible = append(eligible, mk)
			}
		}
		logger.Info("%d markets closing within %d days", len(eligible), s.config.ResolveDays)
	}
	metrics.MarketsEvaluated.WithLabelValues("scan").Add(float64(len(eligible)))

	signals, err := analyzer.ScoreAll(ctx, eligible, s.config.Options, s.config.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to score markets: %w", err)
	}
	metrics.SignalsEmitted.WithLabelValues("anomaly").Add(float64(len(signals)))

	res := &ScanResult{
		RunID:    uuid.NewString(),
		Fetched:  len(markets),
		Eligible: len(eligible),
		Signals:  signals,
	}

	if err := s.renderer.RenderSignals(s.out, topSignals(signals, s.config.TopN), now); err != nil {
		logger.Warn("Failed to render signals: %v", err)
	}

	if len(signals) == 0 {
		logger.Info("No anomalies found above threshold")
		return res, nil
	}

	if path, err := report.WriteSignals(s.config.OutputDir, signals, now); err != nil {
		logger.Error("Failed to write scan report: %v", err)
	} else {
		res.ReportPath = path
		logger.Info("Scan report saved to %s", path)
	}

	if s.recorder != nil {
		if err := s.recorder.SaveSignals(res.RunID, signals, now); err != nil {
			logger.Warn("Failed to save scan signals: %v", err)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.SendSignals(topSignals(signals, s.config.NotifyTopK)); err != nil {
			logger.Error("Failed to send scan notification: %v", err)
		}
	}

	return res, nil
}

func topSignals(signals []models.MarketSignal, n int) []models.MarketSignal {
	if n > 0 && len(signals) > n {
		return signals[:n]
	}
	return signals
}
