// Package batch runs a reconciliation pass: it partitions the input policies,
// processes each partition on its own worker with its own portal session,
// and sends the completion report when every partition succeeds.
package batch

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/marx-cli/internal/metrics"
	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/notify"
	"github.com/sells-group/marx-cli/internal/portal"
	"github.com/sells-group/marx-cli/internal/report"
)

// CRM is the subset of the CRM client a worker uses.
type CRM interface {
	FetchPlanState(ctx context.Context, leadID string) (model.PlanChangeState, error)
	WritePlanUpdate(ctx context.Context, u model.PlanUpdate) error
	WriteBlankUpdate(ctx context.Context, leadID, lastUpdate string) error
}

// CarrierLookup resolves a contract code to carrier name and plan type.
type CarrierLookup interface {
	Lookup(ctx context.Context, contractCode string) (string, string, error)
}

// Deps are the collaborators of a run.
type Deps struct {
	Portal    portal.Opener
	CRM       CRM
	Directory CarrierLookup
	Updates   *report.UpdateWriter
	Errors    *report.ErrorLog
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics // optional
	Now       func() time.Time
}

// Summary is what one partition reports back to the coordinator.
type Summary struct {
	Partition int
	Policies  int
	Alerts    int
	Err       error
}

// Result is the aggregate of a run.
type Result struct {
	Policies int
	Alerts   int
	// Failed lists partitions (1-based) that ended with an error.
	Failed   []int
	Notified bool
}

// Coordinator runs reconciliation passes.
type Coordinator struct {
	deps Deps
}

// NewCoordinator creates a Coordinator. A nil Notifier sends nothing and a
// nil Now uses time.Now.
func NewCoordinator(deps Deps) *Coordinator {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Coordinator{deps: deps}
}

// Run processes records across workers partitions. Every partition runs to
// completion even if a sibling fails, except after a fatal portal error,
// which cancels the whole run. The report is sent only when no partition
// failed.
func (c *Coordinator) Run(ctx context.Context, records []model.PolicyRecord, workers int, inputName string) (Result, error) {
	parts := Partition(records, workers)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	zap.L().Info("batch: starting run",
		zap.String("input", inputName),
		zap.Int("policies", len(records)),
		zap.Int("partitions", len(parts)),
	)

	summaries := make(chan Summary, len(parts))
	var g errgroup.Group
	for i, part := range parts {
		partition := i + 1
		g.Go(func() error {
			s := c.processPartition(ctx, partition, part)
			if portal.IsFatal(s.Err) {
				cancel(s.Err)
			}
			summaries <- s
			return s.Err
		})
	}
	waitErr := g.Wait()
	close(summaries)

	var res Result
	var fatal error
	for s := range summaries {
		res.Policies += s.Policies
		res.Alerts += s.Alerts
		if s.Err != nil {
			res.Failed = append(res.Failed, s.Partition)
			zap.L().Error("batch: partition failed", zap.Int("partition", s.Partition), zap.Error(s.Err))
			if portal.IsFatal(s.Err) {
				fatal = s.Err
			}
		}
	}
	slices.Sort(res.Failed)

	zap.L().Info("batch: run finished",
		zap.Int("policies", res.Policies),
		zap.Int("alerts", res.Alerts),
		zap.Ints("failed_partitions", res.Failed),
	)

	if fatal != nil {
		return res, eris.Wrap(fatal, "batch: run aborted")
	}
	if waitErr != nil {
		return res, eris.Wrapf(waitErr, "batch: %d partition(s) failed, notification suppressed", len(res.Failed))
	}

	rep := notify.Report{
		Date:         c.deps.Now(),
		InputFile:    inputName,
		Policies:     res.Policies,
		Alerts:       res.Alerts,
		ErrorLogPath: c.deps.Errors.Path(),
	}
	if err := c.deps.Notifier.Notify(ctx, rep); err != nil {
		return res, eris.Wrap(err, "batch: send completion report")
	}
	res.Notified = true
	return res, nil
}

func (c *Coordinator) processPartition(ctx context.Context, partition int, records []model.PolicyRecord) Summary {
	s := Summary{Partition: partition}
	if len(records) == 0 {
		return s
	}
	log := zap.L().With(zap.Int("partition", partition))

	sess, err := c.deps.Portal.Open(ctx, partition)
	if err != nil {
		s.Err = eris.Wrapf(err, "batch: partition %d: open portal session", partition)
		return s
	}
	defer func() {
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("batch: close portal session", zap.Error(err))
		}
	}()

	log.Info("batch: partition started", zap.Int("policies", len(records)))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			s.Err = eris.Wrapf(context.Cause(ctx), "batch: partition %d cancelled", partition)
			return s
		}

		s.Policies++
		c.countPolicy()

		alert, err := c.processPolicy(ctx, log, sess, rec)
		if alert {
			s.Alerts++
			c.countAlert()
		}
		if err != nil {
			s.Err = eris.Wrapf(err, "batch: partition %d: policy %s", partition, rec.PolicyID)
			return s
		}
	}
	log.Info("batch: partition complete", zap.Int("policies", s.Policies), zap.Int("alerts", s.Alerts))
	return s
}

func (c *Coordinator) countPolicy() {
	if c.deps.Metrics != nil {
		c.deps.Metrics.PoliciesProcessed.Inc()
	}
}

func (c *Coordinator) countAlert() {
	if c.deps.Metrics != nil {
		c.deps.Metrics.AlertsRaised.Inc()
	}
}

func (c *Coordinator) countLookupError(reason string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.LookupErrors.WithLabelValues(reason).Inc()
	}
}

// isCancel reports whether err comes from the run context going away.
func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
