package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/zeroquant/zeroquant/internal/backtest"
	"github.com/zeroquant/zeroquant/internal/config"
	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/mockexchange"
)

var backtestConfigPath string

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a strategy over historical candles (spec §4.7)",
	RunE:  runBacktest,
}

func init() {
	backtestCmd.Flags().StringVarP(&backtestConfigPath, "config", "c", "", "path to a backtest TOML config")
	backtestCmd.MarkFlagRequired("config")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadBacktestConfig(backtestConfigPath)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}

	symbols, err := cfg.Symbols()
	if err != nil {
		return err
	}
	constraints, err := cfg.Constraints()
	if err != nil {
		return err
	}

	reg := buildRegistry()
	reg2, ok := reg.Lookup(cfg.Strategy.Name)
	if !ok {
		return fmt.Errorf("%w: unknown strategy %q", domain.ErrConfigInvalid, cfg.Strategy.Name)
	}
	decoded, err := reg2.Decode(cfg.Strategy.Params)
	if err != nil {
		return err
	}
	inst := reg2.NewInstance()
	if err := inst.Initialise(decoded); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}

	logger := buildLogger("info", "text")

	startingBalance := cfg.StartingBalance
	if startingBalance.IsZero() {
		startingBalance = decimal.NewFromInt(10000)
	}
	slippageFraction := cfg.SlippageFraction
	if slippageFraction.IsZero() {
		slippageFraction = decimal.NewFromFloat(0.0005)
	}
	credentialID := cfg.CredentialID
	if credentialID == "" {
		credentialID = "backtest"
	}

	engine := backtest.New(backtest.Config{
		Universe:        symbols,
		Strategy:        inst,
		Candles:         newFileCandleSource(cfg.CandleDir),
		Constraints:     constraints,
		StartingBalance: startingBalance,
		CredentialID:    credentialID,
		Slippage:        mockexchange.FixedFractionSlippage{Fraction: slippageFraction},
		BaseVolume:      cfg.BaseVolume,
		ATRPeriod:       cfg.ATRPeriod,
		Logger:          logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest run failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Summary)
}
