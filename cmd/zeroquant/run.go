package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeroquant/zeroquant/internal/analytics"
	"github.com/zeroquant/zeroquant/internal/api"
	"github.com/zeroquant/zeroquant/internal/config"
	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/exchange"
	"github.com/zeroquant/zeroquant/internal/exchange/cryptospot"
	"github.com/zeroquant/zeroquant/internal/exchange/krbroker"
	"github.com/zeroquant/zeroquant/internal/risk"
	"github.com/zeroquant/zeroquant/internal/runtime"
	"github.com/zeroquant/zeroquant/internal/store"
	"github.com/zeroquant/zeroquant/internal/stream"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live/paper trading daemon against a YAML config",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "path to the daemon YAML config (or set ZQ_CONFIG)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	path := runConfigPath
	if path == "" {
		path = os.Getenv("ZQ_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}

	logger := buildLogger(cfg.Logging.Level, cfg.Logging.Format)

	symbols, err := cfg.Symbols()
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	provider, err := buildProvider(cfg.Exchange, cfg.DryRun, logger)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}

	reg := buildRegistry()
	registration, ok := reg.Lookup(cfg.Strategy.Name)
	if !ok {
		return fmt.Errorf("%w: unknown strategy %q", domain.ErrConfigInvalid, cfg.Strategy.Name)
	}
	decoded, err := registration.Decode(cfg.Strategy.Params)
	if err != nil {
		return err
	}
	inst := registration.NewInstance()
	if err := inst.Initialise(decoded); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}

	accountInfo, err := provider.AccountInfo(context.Background())
	if err != nil {
		return fmt.Errorf("fetch starting account state: %w", err)
	}

	accountRepo := newAccountRepository(provider, symbols[0])
	ctxProvider := analytics.NewProvider(db.Candles(), db.Analytics(), accountRepo, analytics.DefaultStalenessBounds(), logger)

	bridge := exchange.NewPriceFeed(cfg.Exchange.WSURL, exchange.Credentials{
		APIKey:     cfg.Exchange.APIKey,
		Secret:     cfg.Exchange.Secret,
		Passphrase: cfg.Exchange.Passphrase,
	}, logger)
	marketStream := stream.New(bridge, logger)

	riskManager := risk.NewManager(cfg.Risk, logger)

	host := runtime.New(runtime.Config{
		Universe: symbols,
		Strategy: inst,
		Provider: provider,
		Stream:   marketStream,
		Context:  ctxProvider,
		Risk:     riskManager,
		StartingBalance: accountInfo.Cash,
		Logger:   logger,
	})

	startErr := make(chan error, 1)
	go func() {
		startErr <- host.Start(context.Background())
	}()

	var dashboard *api.Server
	if cfg.Dashboard.Enabled {
		dashboard = api.NewServer(cfg.Dashboard, host, cfg, logger)
		go func() {
			if err := dashboard.Start(); err != nil {
				logger.Error("dashboard server exited", "error", err)
			}
		}()
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("zeroquant daemon started",
		"strategy", cfg.Strategy.Name,
		"universe", len(symbols),
		"max_markets", cfg.Risk.MaxMarketsActive,
		"max_exposure", cfg.Risk.MaxGlobalExposure,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if dashboard != nil {
		if err := dashboard.Stop(); err != nil {
			logger.Warn("dashboard server stop failed", "error", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := host.Stop(stopCtx); err != nil {
		logger.Error("strategy shutdown failed", "error", err)
	}
	if err := <-startErr; err != nil && stopCtx.Err() == nil {
		logger.Warn("runtime host exited", "error", err)
	}

	return nil
}

func buildProvider(cfg config.ExchangeConfig, dryRun bool, logger *slog.Logger) (exchange.Provider, error) {
	creds := exchange.Credentials{APIKey: cfg.APIKey, Secret: cfg.Secret, Passphrase: cfg.Passphrase}
	switch cfg.Provider {
	case "krbroker":
		return krbroker.New(cfg.BaseURL, creds, dryRun, logger), nil
	case "cryptospot":
		return cryptospot.New(cfg.BaseURL, creds, dryRun, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange provider %q (want krbroker or cryptospot)", cfg.Provider)
	}
}
