package workqueue

import (
	"context"
	"time"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/webhookdelivery"
	"github.com/colliery-io/brokkr/internal/dal/webhooksubscription"
	"github.com/colliery-io/brokkr/internal/dal/workorder"
	"github.com/colliery-io/brokkr/internal/dal/workorderlog"
)

// Config bounds the orchestrator's use of the work order's own
// backoff_seconds/max_retries fields — MaxBackoff is the only
// cluster-wide knob (broker.webhook_delivery_... equivalent for the work
// queue), since everything else is per-row per spec.md §3.
type Config struct {
	MaxBackoff time.Duration
}

// Orchestrator implements the claim → complete/fail → move-to-log
// lifecycle spanning work_orders, work_order_log, and webhook delivery
// enqueueing, all inside one transaction per terminal transition.
type Orchestrator struct {
	orders     *workorder.Store
	log        *workorderlog.Store
	subs       *webhooksubscription.Store
	deliveries *webhookdelivery.Store
	cfg        Config
}

func New(orders *workorder.Store, log *workorderlog.Store, subs *webhooksubscription.Store, deliveries *webhookdelivery.Store, cfg Config) *Orchestrator {
	return &Orchestrator{orders: orders, log: log, subs: subs, deliveries: deliveries, cfg: cfg}
}

// Complete moves a successfully-claimed work order to work_order_log and
// enqueues workorder.completed deliveries, atomically (spec.md §4.4).
func (o *Orchestrator) Complete(ctx context.Context, id, agentID, resultMessage string) error {
	wo, err := o.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if wo.ClaimedBy == nil || *wo.ClaimedBy != agentID {
		return workorder.ErrNotClaimed
	}

	return o.moveToLog(ctx, wo, true, resultMessage, "workorder.completed")
}

// Fail records a failed attempt: schedules a retry with exponential
// backoff while retries remain, or moves the row to work_order_log as a
// permanent failure once retry_count would reach max_retries.
func (o *Orchestrator) Fail(ctx context.Context, id, agentID, errMsg string) error {
	wo, err := o.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if wo.ClaimedBy == nil || *wo.ClaimedBy != agentID {
		return workorder.ErrNotClaimed
	}

	delay := nextRetryDelay(time.Duration(wo.BackoffSeconds)*time.Second, wo.RetryCount+1, o.cfg.MaxBackoff)
	_, permanent, err := o.orders.Retry(ctx, id, agentID, delay)
	if err != nil {
		return err
	}
	if !permanent {
		return nil
	}

	return o.moveToLog(ctx, wo, false, errMsg, "workorder.failed")
}

func (o *Orchestrator) moveToLog(ctx context.Context, wo *workorder.WorkOrder, success bool, resultMessage, eventType string) error {
	pool := o.orders.Pool()
	tx, err := pool.Begin(ctx)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "begin move-to-log tx failed", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	entry := &workorderlog.Entry{
		ID:               wo.ID,
		WorkType:         wo.WorkType,
		YAMLContent:      wo.YAMLContent,
		CreatedAt:        wo.CreatedAt,
		ClaimedAt:        wo.ClaimedAt,
		CompletedAt:      now,
		ClaimedBy:        wo.ClaimedBy,
		Success:          success,
		RetriesAttempted: wo.RetryCount,
		ResultMessage:    resultMessage,
	}
	if err := o.log.Append(ctx, tx, entry); err != nil {
		return err
	}
	if err := o.orders.DeleteTx(ctx, tx, wo.ID); err != nil {
		return err
	}

	matches, err := o.subs.MatchingEvent(ctx, tx, eventType, derefOr(wo.ClaimedBy, ""), "")
	if err != nil {
		return err
	}
	payload := map[string]any{
		"work_order_id": wo.ID,
		"work_type":     wo.WorkType,
		"success":       success,
		"result":        resultMessage,
	}
	for _, sub := range matches {
		if _, err := o.deliveries.Enqueue(ctx, tx, sub, eventType, payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "commit move-to-log tx failed", err)
	}
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
