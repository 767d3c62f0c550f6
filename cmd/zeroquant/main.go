// Command zeroquant is the operational face of the strategy runtime: a
// backtest runner, a single-strategy diagnostic harness, and the live/paper
// trading daemon, all sharing one strategy registry and config loader.
// Generalized from the teacher's cmd/bot, a single-purpose daemon with no
// subcommand structure; the three-subcommand layout is grounded on
// dbn-go-hist's cobra.Command{Use: ...} / rootCmd.AddCommand pattern, since
// the teacher itself never used cobra.
//
// Exit codes: 0 success, 1 config/validation error, 2 runtime error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeroquant/zeroquant/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "zeroquant",
	Short: "Multi-market trading platform: backtest, strategy-test and live/paper trading",
}

func main() {
	cobra.OnInitialize()

	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(strategyTestCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, domain.ErrConfigInvalid) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
