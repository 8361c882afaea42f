package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/kalshioracle/internal/logger"
	"github.com/rewired-gh/kalshioracle/internal/monitor"
	"github.com/rewired-gh/kalshioracle/internal/movement"
	"github.com/rewired-gh/kalshioracle/internal/report"
	"github.com/rewired-gh/kalshioracle/internal/storage"
)

func newMonitorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll fixture series and alert on sharp price or volume moves",
		Long: `Poll every series in monitor.series, compare each market's live midpoint
with its recent candle history and report short-term moves, long-term moves
and volume spikes. Runs until interrupted unless --once is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	return cmd
}

func runMonitor(once bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if once {
		cfg.Monitor.PollOnce = true
	}

	ctx, cancel := signalContext()
	defer cancel()
	startMetrics(ctx, cfg)

	client, err := newKalshiClient(cfg)
	if err != nil {
		return err
	}

	mon := monitor.New(
		client,
		report.NewRenderer(cfg.Report.Format, os.Stdout),
		os.Stdout,
		monitor.Config{
			Series:     cfg.Monitor.Series,
			MaxMarkets: cfg.Monitor.MaxMarkets,
			Thresholds: movement.Thresholds{
				ShortMinutes:     cfg.Monitor.ShortMinutes,
				ShortCents:       cfg.Monitor.ShortCents,
				LongHours:        cfg.Monitor.LongHours,
				LongCents:        cfg.Monitor.LongCents,
				VolumeMultiplier: cfg.Monitor.VolumeMultiplier,
			},
			MaxSpreadCents:     cfg.Monitor.MaxSpreadCents,
			Concurrency:        cfg.Monitor.Concurrency,
			PollInterval:       cfg.Monitor.PollInterval,
			CooldownMultiplier: cfg.Monitor.CooldownMultiplier,
			TopK:               cfg.Telegram.TopK,
			OutputDir:          cfg.Report.OutputDir,
			Retention:          cfg.Storage.Retention,
		},
	)

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)
	if store != nil {
		mon.WithRecorder(store)
		restoreCooldowns(mon, store)
	}

	var notifier monitor.Notifier
	tg, err := newTelegramClient(cfg)
	if err != nil {
		return err
	}
	if tg != nil {
		notifier = tg
		mon.WithNotifier(tg)
		tg.ListenForCommands(ctx)
	}

	mode := "one-shot"
	if !cfg.Monitor.PollOnce {
		mode = "poll every " + cfg.Monitor.PollInterval.String()
	}
	logger.Info("Starting movement monitor (%s, series: %v, short: %.0f¢/%dm, long: %.0f¢/%dh, volume: %.1fx)",
		mode,
		cfg.Monitor.Series,
		cfg.Monitor.ShortCents, cfg.Monitor.ShortMinutes,
		cfg.Monitor.LongCents, cfg.Monitor.LongHours,
		cfg.Monitor.VolumeMultiplier,
	)

	if cfg.Monitor.PollOnce {
		_, err := runCycle(ctx, mon)
		return err
	}

	ticker := time.NewTicker(cfg.Monitor.PollInterval)
	defer ticker.Stop()

	health := &cycleHealth{notifier: notifier}

	logger.Debug("Running initial monitoring cycle")
	_, err = runCycle(ctx, mon)
	health.observe(ctx, err)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return nil

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			_, err := runCycle(ctx, mon)
			health.observe(ctx, err)
		}
	}
}

// cycleHealth tracks consecutive cycle failures and sends one error notice
// per outage and a recovery notice when it ends.
type cycleHealth struct {
	notifier            monitor.Notifier
	consecutiveFailures int
}

// observe records a cycle outcome. Cycles cut short by shutdown are ignored.
func (h *cycleHealth) observe(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		h.consecutiveFailures++
		logger.Error("Monitoring cycle failed: %v", err)
		if h.consecutiveFailures == 1 && h.notifier != nil {
			if sendErr := h.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return
	}
	if h.consecutiveFailures > 0 && h.notifier != nil {
		if sendErr := h.notifier.SendRecovery(h.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
		}
	}
	h.consecutiveFailures = 0
}

func runCycle(ctx context.Context, mon *monitor.Monitor) (*monitor.CycleResult, error) {
	startTime := time.Now()
	logger.Info("Starting monitoring cycle")

	res, err := mon.RunCycle(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info("Monitoring cycle completed in %v (%d markets, %d checked, %d alerts, %d notified)",
		time.Since(startTime), res.Fetched, res.Candidates, len(res.Alerts), res.Notified)
	return res, nil
}

// restoreCooldowns seeds the monitor with alerts notified within the cooldown
// window so a restart does not repeat them.
func restoreCooldowns(mon *monitor.Monitor, store *storage.Storage) {
	cooldown := mon.Cooldown()
	if cooldown <= 0 {
		return
	}
	last, err := store.LastNotified(time.Now().Add(-cooldown))
	if err != nil {
		logger.Warn("Failed to load notification history: %v", err)
		return
	}
	mon.SeedNotified(last)
	logger.Info("Restored notification cooldowns for %d markets", len(last))
}
