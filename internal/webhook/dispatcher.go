// Package webhook is the broker-side half of the delivery pipeline
// (spec.md §4.6): a ticker-driven dispatcher that claims a batch of
// broker-delivered rows (target_labels IS NULL), POSTs each payload, and
// records the outcome. Agent-side delivery (label-matched claim) lives in
// internal/agent instead, which reaches the same claim/deliver/report
// operations over HTTP via internal/agentclient rather than a direct
// store call — an agent runs against a remote cluster with no direct
// database access. Grounded on the teacher's
// internal/controlplane/webhook.Notifier (payload shape, signature/auth
// header, timeout'd http.Client, status-code-driven success/failure split)
// generalized from an in-memory fire-and-forget fan-out to a durable
// claim/lease/retry loop.
package webhook

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/webhookdelivery"
	"github.com/colliery-io/brokkr/internal/dal/webhooksubscription"
)

type Config struct {
	ClaimantID     string
	PollInterval   time.Duration
	BatchSize      int
	LeaseDuration  time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
}

// Dispatcher polls for broker-owned pending deliveries and delivers them.
type Dispatcher struct {
	subs       *webhooksubscription.Store
	deliveries *webhookdelivery.Store
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client
}

func New(subs *webhooksubscription.Store, deliveries *webhookdelivery.Store, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Run blocks, ticking at cfg.PollInterval, until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.cfg.PollInterval <= 0 {
		d.logger.Warn("webhook dispatcher disabled: non-positive poll interval")
		return
	}
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	batchSize := d.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	batch, err := d.deliveries.ClaimBrokerBatch(ctx, d.cfg.ClaimantID, d.cfg.LeaseDuration, batchSize)
	if err != nil {
		d.logger.Warn("claim broker delivery batch failed", zap.Error(err))
		return
	}
	for _, delivery := range batch {
		d.deliver(ctx, delivery)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, delivery *webhookdelivery.Delivery) {
	sub, err := d.subs.Get(ctx, delivery.SubscriptionID)
	if err != nil {
		if brokkrerrors.Is(err, brokkrerrors.FatalIntegrity) {
			// A decryption failure on the subscription's own ciphertext is
			// Fatal Integrity (spec.md §4.6): no attempt against this
			// subscription can ever succeed until its secret is replaced, so
			// every pending/acquired delivery for it is dead-lettered, not
			// just this one.
			if _, markErr := d.deliveries.MarkAllDeadForSubscription(ctx, delivery.SubscriptionID, "subscription secret undecryptable: "+err.Error()); markErr != nil {
				d.logger.Error("mark subscription deliveries dead failed", zap.String("subscription_id", delivery.SubscriptionID), zap.Error(markErr))
			}
			return
		}
		// Not-found or transient lookup errors affect only this delivery
		// attempt, not the whole subscription's backlog: leave the row
		// acquired and let the lease sweeper return it to pending for a
		// later retry rather than dead-lettering every sibling delivery.
		d.logger.Warn("load webhook subscription for delivery failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		d.fail(ctx, sub, delivery, "build request failed: "+err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Event", delivery.EventType)
	req.Header.Set("X-Brokkr-Delivery-Id", delivery.ID)
	if sub.AuthHeader != "" {
		req.Header.Set("Authorization", sub.AuthHeader)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.fail(ctx, sub, delivery, "transport error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := d.deliveries.Succeed(ctx, delivery.ID); err != nil {
			d.logger.Warn("mark delivery success failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
		}
		return
	}
	d.fail(ctx, sub, delivery, "non-2xx response")
}

func (d *Dispatcher) fail(ctx context.Context, sub *webhooksubscription.Subscription, delivery *webhookdelivery.Delivery, reason string) {
	maxRetries := sub.MaxRetries
	if err := d.deliveries.Fail(ctx, delivery.ID, maxRetries, d.cfg.MaxBackoff, reason); err != nil {
		d.logger.Warn("record delivery failure failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
	}
}
