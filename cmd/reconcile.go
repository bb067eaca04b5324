package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marx-cli/internal/batch"
	"github.com/sells-group/marx-cli/internal/directory"
	"github.com/sells-group/marx-cli/internal/metrics"
	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/report"
)

var reconcileForce bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <input_csv> <workers>",
	Short: "Reconcile sold policies against current Medicare enrollment",
	Long: `Splits the input CSV into <workers> partitions, looks up each policy's
enrollment through the portal sidecar, writes the verdict back to the CRM lead
and appends to the update CSV. A completion report is sent when every
partition succeeds.`,
	Args: reconcileArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		input := args[0]
		workers, _ := parseWorkers(args[1])
		if err := cfg.ValidatePartitions(workers); err != nil {
			return err
		}

		records, err := batch.ReadPolicies(input)
		if err != nil {
			return err
		}

		m := metrics.New()
		start := time.Now()
		defer finishMetrics(ctx, m, model.RunKindReconcile, start)

		return trackRun(ctx, model.RunKindReconcile, input, reconcileForce, func() (int, int, error) {
			res, err := runReconcile(ctx, m, records, workers, input)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d policies, %d alerts raised\n", res.Policies, res.Alerts)
			}
			return res.Policies, res.Alerts, err
		})
	},
}

func runReconcile(ctx context.Context, m *metrics.Metrics, records []model.PolicyRecord, workers int, input string) (batch.Result, error) {
	dir := directory.New(directory.XLSXLoader{Path: cfg.Directory.Path, SheetName: cfg.Directory.Sheet})
	if cfg.Directory.RefreshIntervalSecs > 0 {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go dir.Watch(watchCtx, time.Duration(cfg.Directory.RefreshIntervalSecs)*time.Second)
	}

	updates, err := report.NewUpdateWriter(cfg.Output.UpdateCSV)
	if err != nil {
		return batch.Result{}, err
	}
	errLog, err := report.NewErrorLog(cfg.Output.ErrorDir, time.Now())
	if err != nil {
		return batch.Result{}, err
	}
	notifier, err := newNotifier(ctx, cfg.Notify)
	if err != nil {
		return batch.Result{}, err
	}

	coord := batch.NewCoordinator(batch.Deps{
		Portal:    newPortalOpener(cfg.Portal),
		CRM:       newCRMClient(m),
		Directory: dir,
		Updates:   updates,
		Errors:    errLog,
		Notifier:  notifier,
		Metrics:   m,
	})

	res, err := coord.Run(ctx, records, workers, input)
	zap.L().Info("reconcile finished",
		zap.Int("policies", res.Policies),
		zap.Int("alerts", res.Alerts),
		zap.Int("update_rows", updates.Rows()),
		zap.Int("error_log_lines", errLog.Count()),
		zap.Bool("notified", res.Notified),
	)
	return res, err
}

// reconcileArgs requires the input path and a positive worker count.
func reconcileArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(2)(cmd, args); err != nil {
		return err
	}
	_, err := parseWorkers(args[1])
	return err
}

func parseWorkers(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, eris.Errorf("workers must be a positive integer, got %q", s)
	}
	return n, nil
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileForce, "force", false, "start even if another reconcile run is marked running")
	rootCmd.AddCommand(reconcileCmd)
}
