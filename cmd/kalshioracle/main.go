package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/kalshioracle/internal/config"
	"github.com/rewired-gh/kalshioracle/internal/kalshi"
	"github.com/rewired-gh/kalshioracle/internal/logger"
	"github.com/rewired-gh/kalshioracle/internal/metrics"
	"github.com/rewired-gh/kalshioracle/internal/storage"
	"github.com/rewired-gh/kalshioracle/internal/telegram"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "kalshioracle",
		Short:         "Scan Kalshi markets for pricing anomalies and watch fixtures for sharp moves",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	root.AddCommand(newScanCmd())
	root.AddCommand(newMonitorCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("kalshioracle: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", configPath)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func newKalshiClient(cfg *config.Config) (*kalshi.Client, error) {
	signer, err := kalshi.NewSigner(cfg.Kalshi.APIKeyID, cfg.Kalshi.APIKeyRSA)
	if err != nil {
		return nil, fmt.Errorf("failed to load Kalshi API key: %w", err)
	}
	if signer == nil {
		logger.Debug("No Kalshi API key configured, using unauthenticated requests")
	}

	logger.Info("Connecting to Kalshi (%s)", cfg.Kalshi.Env)
	return kalshi.NewClient(
		cfg.Kalshi.BaseURL,
		cfg.Kalshi.Timeout,
		kalshi.ClientConfig{
			MaxRetries:        cfg.Kalshi.MaxRetries,
			RequestsPerSecond: cfg.Kalshi.RequestsPerSecond,
			PageLimit:         cfg.Kalshi.PageLimit,
			CandlePeriod:      cfg.Kalshi.CandlePeriod,
			Signer:            signer,
		},
	), nil
}

// openStorage returns nil when persistence is disabled.
func openStorage(cfg *config.Config) (*storage.Storage, error) {
	if !cfg.Storage.Enabled {
		logger.Debug("Result storage disabled")
		return nil, nil
	}
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func closeStorage(store *storage.Storage) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

// newTelegramClient returns nil when notifications are disabled.
func newTelegramClient(cfg *config.Config) (*telegram.Client, error) {
	if !cfg.Telegram.Enabled {
		logger.Debug("Telegram notifications disabled")
		return nil, nil
	}
	client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	logger.Info("Telegram client initialized successfully")
	return client, nil
}

func startMetrics(ctx context.Context, cfg *config.Config) {
	if cfg.Metrics.Enabled {
		metrics.Serve(ctx, cfg.Metrics.ListenAddr)
	}
}
