package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/marx-cli/internal/metrics"
	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/reset"
)

var resetDate string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear marx_plan_change_result on leads sold yesterday",
	Long: `Fetches the policies sold on the given day (yesterday by default) and
sets marx_plan_change_result to None on each lead, rate limited through a
shared token bucket.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("reset"); err != nil {
			return err
		}

		soldOn := reset.Yesterday(time.Now())
		if resetDate != "" {
			d, err := parseSaleDate(resetDate)
			if err != nil {
				return err
			}
			soldOn = d
		}

		m := metrics.New()
		start := time.Now()
		defer finishMetrics(ctx, m, model.RunKindReset, start)

		input := soldOn.Format(model.USDateLayout)
		return trackRun(ctx, model.RunKindReset, input, true, func() (int, int, error) {
			client := newCRMClient(m)

			poll := time.Duration(cfg.Reset.PollIntervalSecs) * time.Second
			leads, err := reset.FetchLeads(ctx, client, soldOn, poll)
			if err != nil {
				return 0, 0, err
			}
			if len(leads) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No filtered records to write.")
				return 0, 0, nil
			}

			d := reset.NewDispatcher(client, reset.Config{
				Rate:     cfg.Reset.Rate,
				Capacity: cfg.Reset.Capacity,
				Workers:  cfg.Reset.Workers,
				Backoff:  time.Duration(cfg.Reset.BackoffMs) * time.Millisecond,
			}, m)
			stats, err := d.Dispatch(ctx, leads)
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d of %d leads (%d failed)\n", stats.Succeeded, len(leads), stats.Failed)
			return len(leads), 0, err
		})
	},
}

// parseSaleDate accepts MM/DD/YYYY or YYYY-MM-DD.
func parseSaleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{model.USDateLayout, model.DateEffectiveLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("invalid --date %q: want MM/DD/YYYY or YYYY-MM-DD", s)
}

func init() {
	resetCmd.Flags().StringVar(&resetDate, "date", "", "sale date to reset (MM/DD/YYYY or YYYY-MM-DD); defaults to yesterday")
	rootCmd.AddCommand(resetCmd)
}
