// Package agent implements the pull-only reconciliation loop of
// spec.md §4.5: heartbeat, apply pending deployment objects in
// dependency order, dispatch pending work orders to a handler keyed by
// work_type, and deliver agent-targeted webhooks. Restructured from the
// teacher's internal/probe/agent.Agent, which holds a persistent
// WebSocket connection and reacts to server-pushed messages on an
// inbox channel — spec.md's Non-goals explicitly rule out push, so
// every tick here is a self-contained poll/act/report cycle against
// internal/agentclient instead of a read off a channel. The teacher's
// struct shape (holds its executor/signer/logger, Run(ctx) blocks until
// cancelled) and ticker-based periodic sub-loop are kept.
package agent

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/colliery-io/brokkr/internal/agent/apply"
	"github.com/colliery-io/brokkr/internal/agentclient"
)

// WorkOrderHandler executes one claimed work order's yaml content and
// returns whether it succeeded along with a human-readable result or
// error message. Keyed by work_type in the Agent's handler registry
// (spec.md §9 "Polymorphic work types").
type WorkOrderHandler func(ctx context.Context, yamlContent []byte) (success bool, resultMessage string)

// Config controls one agent's identity and tick cadence.
type Config struct {
	AgentID      string
	PollInterval time.Duration
	WorkTypes    []string
}

// Agent is the main reconciliation loop for one Kubernetes cluster.
type Agent struct {
	cfg      Config
	broker   *agentclient.Client
	applier  *apply.Client
	handlers map[string]WorkOrderHandler
	logger   *zap.Logger
}

func New(cfg Config, broker *agentclient.Client, applier *apply.Client, logger *zap.Logger) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:      cfg,
		broker:   broker,
		applier:  applier,
		handlers: make(map[string]WorkOrderHandler),
		logger:   logger,
	}
}

// RegisterHandler wires a work_type discriminator to its handler, e.g.
// "build" to internal/agent/build.Handler.Handle.
func (a *Agent) RegisterHandler(workType string, h WorkOrderHandler) {
	a.handlers[workType] = h
}

// Run blocks, ticking at cfg.PollInterval, until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting agent reconciliation loop",
		zap.String("agent_id", a.cfg.AgentID),
		zap.Duration("poll_interval", a.cfg.PollInterval),
	)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent shutting down")
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick runs one full poll/act/report cycle. Errors in one phase don't
// block the others: a failed heartbeat shouldn't prevent applying
// pending deployment objects, and vice versa.
func (a *Agent) tick(ctx context.Context) {
	if err := a.broker.Heartbeat(ctx, a.cfg.AgentID); err != nil {
		a.logger.Warn("heartbeat failed", zap.Error(err))
	}

	a.reconcileDeploymentObjects(ctx)
	a.reconcileWorkOrders(ctx)
	a.reconcileWebhookDeliveries(ctx)
}

func (a *Agent) reconcileDeploymentObjects(ctx context.Context) {
	objs, err := a.broker.PendingDeploymentObjects(ctx, a.cfg.AgentID)
	if err != nil {
		a.logger.Warn("poll pending deployment objects failed", zap.Error(err))
		return
	}

	for _, obj := range objs {
		a.applyDeploymentObject(ctx, obj)
	}
}

func (a *Agent) applyDeploymentObject(ctx context.Context, obj agentclient.DeploymentObject) {
	docs, err := apply.ParseManifests(obj.YAMLContent)
	if err != nil {
		a.reportDeploymentOutcome(ctx, obj.ID, false, "parse manifest: "+err.Error())
		return
	}

	if obj.IsDeletionMarker {
		err = a.applier.Delete(ctx, docs)
	} else {
		err = a.applier.Apply(ctx, docs)
	}
	if err != nil {
		a.logger.Warn("deployment object apply failed",
			zap.String("deployment_object_id", obj.ID),
			zap.String("stack_id", obj.StackID),
			zap.Int64("sequence_id", obj.SequenceID),
			zap.Error(err))
		a.reportDeploymentOutcome(ctx, obj.ID, false, err.Error())
		return
	}

	a.reportDeploymentOutcome(ctx, obj.ID, true, "")
}

func (a *Agent) reportDeploymentOutcome(ctx context.Context, deploymentObjectID string, success bool, errDetail string) {
	if err := a.broker.ReportDeploymentOutcome(ctx, a.cfg.AgentID, deploymentObjectID, success, errDetail); err != nil {
		a.logger.Warn("report deployment outcome failed",
			zap.String("deployment_object_id", deploymentObjectID), zap.Error(err))
	}
}

func (a *Agent) reconcileWorkOrders(ctx context.Context) {
	for _, workType := range a.cfg.WorkTypes {
		handler, ok := a.handlers[workType]
		if !ok {
			continue
		}

		orders, err := a.broker.PendingWorkOrders(ctx, a.cfg.AgentID, workType)
		if err != nil {
			a.logger.Warn("poll pending work orders failed", zap.String("work_type", workType), zap.Error(err))
			continue
		}

		for _, order := range orders {
			a.claimAndRunWorkOrder(ctx, order, handler)
		}
	}
}

func (a *Agent) claimAndRunWorkOrder(ctx context.Context, order agentclient.WorkOrder, handler WorkOrderHandler) {
	claimed, err := a.broker.ClaimWorkOrder(ctx, a.cfg.AgentID, order.ID)
	if err != nil {
		a.logger.Warn("claim work order failed", zap.String("work_order_id", order.ID), zap.Error(err))
		return
	}
	if !claimed {
		// Lost the race to another agent; nothing to do this tick.
		return
	}

	success, resultMessage := handler(ctx, order.YAMLContent)
	if err := a.broker.CompleteWorkOrder(ctx, a.cfg.AgentID, order.ID, success, resultMessage); err != nil {
		a.logger.Warn("complete work order failed", zap.String("work_order_id", order.ID), zap.Error(err))
	}
}

func (a *Agent) reconcileWebhookDeliveries(ctx context.Context) {
	deliveries, err := a.broker.PendingWebhookDeliveries(ctx, a.cfg.AgentID)
	if err != nil {
		a.logger.Warn("poll pending webhook deliveries failed", zap.Error(err))
		return
	}

	for _, d := range deliveries {
		a.claimAndDeliver(ctx, d)
	}
}

var agentDeliveryHTTPClient = &http.Client{Timeout: 10 * time.Second}

func (a *Agent) claimAndDeliver(ctx context.Context, d agentclient.WebhookDelivery) {
	claimed, err := a.broker.ClaimWebhookDelivery(ctx, a.cfg.AgentID, d.ID)
	if err != nil {
		a.logger.Warn("claim webhook delivery failed", zap.String("delivery_id", d.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	success, errDetail := a.deliverOne(ctx, d)
	if err := a.broker.ReportDeliveryOutcome(ctx, a.cfg.AgentID, d.ID, success, errDetail); err != nil {
		a.logger.Warn("report delivery outcome failed", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}

func (a *Agent) deliverOne(ctx context.Context, d agentclient.WebhookDelivery) (success bool, errDetail string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return false, "build request: " + err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Event", d.EventType)
	req.Header.Set("X-Brokkr-Delivery-Id", d.ID)
	if d.AuthHeader != "" {
		req.Header.Set("Authorization", d.AuthHeader)
	}

	resp, err := agentDeliveryHTTPClient.Do(req)
	if err != nil {
		return false, "transport error: " + err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, "non-2xx response"
}
