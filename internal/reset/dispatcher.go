// Package reset clears marx_plan_change_result on a batch of CRM leads. Leads
// flow through a shared queue to a small worker pool gated by one token
// bucket.
package reset

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/marx-cli/internal/metrics"
	"github.com/sells-group/marx-cli/internal/model"
)

// Clearer writes the cleared plan-change result for one lead and reports the
// HTTP status it got back.
type Clearer interface {
	ClearPlanChangeResult(ctx context.Context, leadID, claimNumber string) (int, error)
}

// Config tunes the dispatcher.
type Config struct {
	// Rate is the token refill rate in requests per second.
	Rate float64
	// Capacity is the bucket size.
	Capacity int
	Workers  int
	// Backoff is how long a worker sleeps after re-queueing an item it could
	// not get a token for.
	Backoff time.Duration
}

// DefaultConfig is 10 rps, burst 10, three workers, 1s backoff.
func DefaultConfig() Config {
	return Config{Rate: 10, Capacity: 10, Workers: 3, Backoff: time.Second}
}

// Stats counts what a dispatch did.
type Stats struct {
	Succeeded int64
	Failed    int64
	Requeued  int64
}

// Dispatcher fans reset requests out to a worker pool.
type Dispatcher struct {
	client  Clearer
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. Zero config fields take DefaultConfig
// values. m may be nil.
func NewDispatcher(client Clearer, cfg Config, m *metrics.Metrics) *Dispatcher {
	def := DefaultConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Dispatcher{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Capacity),
		metrics: m,
	}
}

// item is a queued lead, or the stop signal when stop is set.
type item struct {
	lead model.Lead
	stop bool
}

// Dispatch sends one clear request per lead. Request failures are logged and
// counted, never returned; only context cancellation ends a dispatch early.
func (d *Dispatcher) Dispatch(ctx context.Context, leads []model.Lead) (Stats, error) {
	if len(leads) == 0 {
		return Stats{}, nil
	}

	queue := make(chan item, len(leads)+d.cfg.Workers)
	for _, l := range leads {
		queue <- item{lead: l}
	}
	for i := 0; i < d.cfg.Workers; i++ {
		queue <- item{stop: true}
	}

	var pending, succeeded, failed, requeued atomic.Int64
	pending.Store(int64(len(leads)))

	zap.L().Info("reset: dispatching",
		zap.Int("leads", len(leads)),
		zap.Int("workers", d.cfg.Workers),
		zap.Float64("rate", d.cfg.Rate),
	)

	var g errgroup.Group
	for w := 0; w < d.cfg.Workers; w++ {
		log := zap.L().With(zap.Int("worker", w))
		g.Go(func() error {
			for {
				var it item
				select {
				case <-ctx.Done():
					return ctx.Err()
				case it = <-queue:
				}

				if it.stop {
					// A re-queued lead may still sit behind this signal.
					if pending.Load() > 0 {
						queue <- it
						if err := sleep(ctx, d.cfg.Backoff); err != nil {
							return err
						}
						continue
					}
					return nil
				}

				if !d.limiter.Allow() {
					queue <- it
					requeued.Add(1)
					if err := sleep(ctx, d.cfg.Backoff); err != nil {
						return err
					}
					continue
				}

				if d.send(ctx, log, it.lead) {
					succeeded.Add(1)
				} else {
					failed.Add(1)
				}
				pending.Add(-1)
			}
		})
	}

	err := g.Wait()
	stats := Stats{
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
		Requeued:  requeued.Load(),
	}
	zap.L().Info("reset: dispatch finished",
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
		zap.Int64("requeued", stats.Requeued),
	)
	return stats, err
}

func (d *Dispatcher) send(ctx context.Context, log *zap.Logger, lead model.Lead) bool {
	status, err := d.client.ClearPlanChangeResult(ctx, lead.LeadID, lead.ClaimNumber)
	d.countStatus(status)
	if err != nil {
		log.Error("reset: request failed",
			zap.String("lead_id", lead.LeadID),
			zap.String("claim_number", lead.ClaimNumber),
			zap.Int("status", status),
			zap.Error(err),
		)
		return false
	}
	log.Info("reset: request succeeded",
		zap.String("lead_id", lead.LeadID),
		zap.String("claim_number", lead.ClaimNumber),
	)
	return true
}

func (d *Dispatcher) countStatus(status int) {
	if d.metrics == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	d.metrics.ResetRequests.WithLabelValues(label).Inc()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
