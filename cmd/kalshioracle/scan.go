package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/kalshioracle/internal/analyzer"
	"github.com/rewired-gh/kalshioracle/internal/logger"
	"github.com/rewired-gh/kalshioracle/internal/monitor"
	"github.com/rewired-gh/kalshioracle/internal/report"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Score open markets once and report anomalies",
		Long: `Fetch every open market closing within scan.resolve_days, score each one
for wide spreads, thin liquidity and price skew, print the top results and
append them to the day's scan_YYYY-MM-DD.jsonl report.`,
		RunE: runScan,
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	startMetrics(ctx, cfg)

	client, err := newKalshiClient(cfg)
	if err != nil {
		return err
	}

	scanner := monitor.NewScanner(
		client,
		report.NewRenderer(cfg.Report.Format, os.Stdout),
		os.Stdout,
		monitor.ScanConfig{
			Options: analyzer.Options{
				MinScore:        cfg.Scan.MinScore,
				VolumeThreshold: cfg.Scan.VolumeThreshold,
				SpreadThreshold: cfg.Scan.SpreadThreshold,
				MinVolume:       cfg.Scan.MinVolume,
			},
			MaxMarkets:  cfg.Scan.MaxMarkets,
			ResolveDays: cfg.Scan.ResolveDays,
			Workers:     cfg.Scan.Workers,
			TopN:        cfg.Report.TopN,
			NotifyTopK:  cfg.Telegram.TopK,
			OutputDir:   cfg.Report.OutputDir,
			Retention:   cfg.Storage.Retention,
		},
	)

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)
	if store != nil {
		scanner.WithRecorder(store)
	}

	tg, err := newTelegramClient(cfg)
	if err != nil {
		return err
	}
	if tg != nil {
		scanner.WithNotifier(tg)
	}

	logger.Info("Starting anomaly scan (min_score: %.2f, volume_threshold: %d, spread_threshold: %.0f)",
		cfg.Scan.MinScore, cfg.Scan.VolumeThreshold, cfg.Scan.SpreadThreshold)

	res, err := scanner.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("Scan %s complete: %d fetched, %d eligible, %d flagged", res.RunID, res.Fetched, res.Eligible, len(res.Signals))

	return nil
}
