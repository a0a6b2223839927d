// Package webhookdelivery is the data-access layer for the Webhook
// Delivery entity (spec.md §3, §4.6): the per-event attempt row that drives
// delivery, claimed with a TTL lease either by the broker itself
// (target_labels IS NULL) or by a label-matched agent. Grounded on the
// teacher's internal/controlplane/webhook.Notifier (HMAC signing, retry
// loop, delivery history) generalized from an in-memory fire-and-forget
// notifier to this durable claim/lease model, and on
// internal/controlplane/jobs' conditional-UPDATE claim pattern, strengthened
// with `FOR UPDATE SKIP LOCKED` for contention-free batch claiming.
package webhookdelivery

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusAcquired Status = "acquired"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusDead     Status = "dead"
)

type Delivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	EventID        string
	Payload        []byte // JSON
	TargetLabels   []string
	Status         Status
	AcquiredBy     *string
	AcquiredUntil  *time.Time
	Attempts       int
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time
	LastError      string
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// IsBrokerDelivered reports whether this delivery is broker-side
// (target_labels IS NULL) rather than agent-side.
func (d *Delivery) IsBrokerDelivered() bool { return len(d.TargetLabels) == 0 }
