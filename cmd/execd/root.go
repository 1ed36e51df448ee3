package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "execd",
		Short: "Algorithmic execution core: TWAP, pair trading and beta hedging behind a pre-trade risk gate",
		Long: `execd runs execution algorithms against a market data feed through a single order
management system. Every child order passes the risk gate (participation, flow imbalance,
volatility and net exposure) before it reaches the venue.

  execd run       consume the configured live feed
  execd replay    replay a tick CSV through the simulated venue and print a summary
  execd validate  check a config file and exit`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/execd.yaml", "config file")

	cmd.AddCommand(
		newRunCmd(opts),
		newReplayCmd(opts),
		newValidateCmd(opts),
	)
	return cmd
}
