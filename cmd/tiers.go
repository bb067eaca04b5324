package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/marx-cli/internal/metrics"
	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/tiers"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers <1|2|3>",
	Short: "Export active policies in an aging tier to CSV",
	Long: `Tier 1: not yet effective and sold more than 7 days ago.
Tier 2: effective within the last 90 days.
Tier 3: effective more than 90 days ago.

Only the latest policy per Medicare claim number is considered.`,
	Args: tiersArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("tiers"); err != nil {
			return err
		}
		tier, _ := tiers.ParseTier(args[0])

		m := metrics.New()
		start := time.Now()
		defer finishMetrics(ctx, m, model.RunKindTiers, start)

		return trackRun(ctx, model.RunKindTiers, tier.FileName(), true, func() (int, int, error) {
			exp := tiers.NewExporter(newCRMClient(m), cfg.Tiers.OutputDir)
			path, n, err := exp.Export(ctx, tier)
			if err != nil {
				return 0, 0, err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No filtered records to write.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Filtered records written to %s\n", path)
			}
			return n, 0, nil
		})
	},
}

func tiersArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	_, err := tiers.ParseTier(args[0])
	return err
}

func init() {
	rootCmd.AddCommand(tiersCmd)
}
