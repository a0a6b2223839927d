// Package webhooksubscription is the data-access layer for the Webhook
// Subscription entity (spec.md §3). Grounded on the teacher's
// internal/controlplane/webhook (WebhookConfig) generalized from an
// in-memory map to a Postgres store with encrypted URL/header at rest.
package webhooksubscription

import "time"

type Filter struct {
	AgentID string            `json:"agent_id,omitempty"`
	StackID string            `json:"stack_id,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type Subscription struct {
	ID                string
	Name              string
	URL               string // decrypted on every read
	AuthHeader        string // decrypted on every read
	EventPatterns     []string
	FilterAgentID     *string
	FilterStackID     *string
	FilterLabels      map[string]string
	TargetLabels       []string // nil => broker-delivered; non-nil => agent-delivered
	Enabled           bool
	MaxRetries        int
	TimeoutSeconds    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

type CreateParams struct {
	Name           string
	URL            string
	AuthHeader     string
	EventPatterns  []string
	Filter         Filter
	TargetLabels   []string
	MaxRetries     int
	TimeoutSeconds int
}

// MatchesEvent reports whether eventType matches one of s's patterns.
// Patterns are either an exact match or a suffix wildcard ("deployment.*").
func (s *Subscription) MatchesEvent(eventType string) bool {
	for _, p := range s.EventPatterns {
		if p == eventType {
			return true
		}
		if len(p) > 1 && p[len(p)-1] == '*' && len(eventType) >= len(p)-1 && eventType[:len(p)-1] == p[:len(p)-1] {
			return true
		}
	}
	return false
}
