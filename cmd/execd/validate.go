package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"algo-exec-go/config"
)

func newValidateCmd(rc *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnvOverrides(rc.configPath)
			if err != nil {
				return err
			}
			if _, err := cfg.Registry(); err != nil {
				return err
			}
			if _, err := cfg.TWAPConfigs(); err != nil {
				return err
			}
			_, hedger := cfg.HedgeConfig()
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d instruments, %d twap, %d pairs, hedger=%v\n",
				len(cfg.Instruments), len(cfg.Strategies.TWAP), len(cfg.Strategies.Pairs), hedger)
			return nil
		},
	}
}
