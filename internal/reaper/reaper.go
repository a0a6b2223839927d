// Package reaper hosts Brokkr's background tasks (spec.md §4.4, §4.6,
// §5 Scheduling model): the work-order stale-claim reaper, the retry
// promoter, the webhook-delivery lease sweeper, and the retention purger.
// The first three each run on their own ticker and the retention purger on
// a cron schedule, independent of the others — there is no global
// scheduler. Grounded on the teacher's
// internal/controlplane/jobs.Scheduler (ticker + context.CancelFunc +
// sync.WaitGroup start/stop shape), generalized from one recurring-job
// ticker to four independent maintenance tickers, and on its use of
// robfig/cron for the one task (retention purge) that wants a cron
// expression rather than a fixed interval.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/colliery-io/brokkr/internal/dal/webhookdelivery"
	"github.com/colliery-io/brokkr/internal/dal/workorder"
	"github.com/colliery-io/brokkr/internal/dal/workorderlog"
)

type Config struct {
	StaleClaimReaperInterval time.Duration
	RetryPromoterInterval    time.Duration
	LeaseSweeperInterval     time.Duration
	RetentionPurgeCronExpr   string
	WebhookDeliveryRetention time.Duration
	WorkOrderLogRetention    time.Duration
}

type Reaper struct {
	orders     *workorder.Store
	log        *workorderlog.Store
	deliveries *webhookdelivery.Store
	cfg        Config
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(orders *workorder.Store, log *workorderlog.Store, deliveries *webhookdelivery.Store, cfg Config, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{orders: orders, log: log, deliveries: deliveries, cfg: cfg, logger: logger}
}

// Start launches all four background tasks. Safe to call once; a second
// call while already running is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.runTicker(loopCtx, "stale_claim_reaper", r.cfg.StaleClaimReaperInterval, r.reapStaleClaims)
	r.runTicker(loopCtx, "retry_promoter", r.cfg.RetryPromoterInterval, r.promoteRetries)
	r.runTicker(loopCtx, "lease_sweeper", r.cfg.LeaseSweeperInterval, r.sweepLeases)
	r.runCron(loopCtx, "retention_purger", r.cfg.RetentionPurgeCronExpr, r.purgeRetention)
}

// Stop cancels every task and waits for them to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Reaper) runTicker(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	if interval <= 0 {
		r.logger.Warn("skipping background task with non-positive interval", zap.String("task", name))
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()
}

func (r *Reaper) runCron(ctx context.Context, name, expr string, task func(context.Context)) {
	if expr == "" {
		r.logger.Warn("skipping background task with empty cron expression", zap.String("task", name))
		return
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		r.logger.Error("invalid cron expression", zap.String("task", name), zap.String("expr", expr), zap.Error(err))
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		now := time.Now()
		for {
			next := schedule.Next(now)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case now = <-timer.C:
				task(ctx)
			}
		}
	}()
}

func (r *Reaper) reapStaleClaims(ctx context.Context) {
	n, err := r.orders.ReapStaleClaims(ctx)
	if err != nil {
		r.logger.Warn("reap stale work order claims failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("reaped stale work order claims", zap.Int64("count", n))
	}
}

func (r *Reaper) promoteRetries(ctx context.Context) {
	n, err := r.orders.PromoteRetryPending(ctx)
	if err != nil {
		r.logger.Warn("promote retry-pending work orders failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("promoted retry-pending work orders", zap.Int64("count", n))
	}
}

func (r *Reaper) sweepLeases(ctx context.Context) {
	n, err := r.deliveries.SweepExpiredLeases(ctx)
	if err != nil {
		r.logger.Warn("sweep expired webhook delivery leases failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("swept expired webhook delivery leases", zap.Int64("count", n))
	}
}

func (r *Reaper) purgeRetention(ctx context.Context) {
	if r.cfg.WebhookDeliveryRetention > 0 {
		n, err := r.deliveries.PurgeOld(ctx, r.cfg.WebhookDeliveryRetention)
		if err != nil {
			r.logger.Warn("purge old webhook deliveries failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("purged old webhook deliveries", zap.Int64("count", n))
		}
	}
	if r.cfg.WorkOrderLogRetention > 0 {
		n, err := r.log.Purge(ctx, r.cfg.WorkOrderLogRetention)
		if err != nil {
			r.logger.Warn("purge old work order log entries failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("purged old work order log entries", zap.Int64("count", n))
		}
	}
}
