// Package agentclient is the HTTP client side of the agent→broker
// protocol (spec.md §6): heartbeats, polling for pending deployment
// objects and work orders, claiming and reporting outcomes, and polling
// for agent-targeted webhook deliveries. It replaces the teacher's
// internal/probe/connection.Client, which held a persistent WebSocket
// and an inbox channel for server-pushed messages — spec.md's Non-goals
// rule out push entirely, so every call here is a self-contained
// request/response round trip against `/api/v1` instead of a frame on a
// socket. Grounded on the teacher's internal/controlplane/webhook.Notifier
// for the timeout'd http.Client + JSON body shape.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config configures the broker connection.
type Config struct {
	BrokerURL string
	PAK       string
	Timeout   time.Duration
}

// Client is a thin wrapper over the broker's agent-facing HTTP surface.
type Client struct {
	baseURL    string
	pak        string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BrokerURL,
		pak:        cfg.PAK,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// DeploymentObject is the wire shape of a pending deployment object as
// returned by the poll endpoint.
type DeploymentObject struct {
	ID               string `json:"id"`
	StackID          string `json:"stack_id"`
	SequenceID       int64  `json:"sequence_id"`
	YAMLContent      []byte `json:"yaml_content"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
}

// WorkOrder is the wire shape of a claimable work order.
type WorkOrder struct {
	ID          string `json:"id"`
	WorkType    string `json:"work_type"`
	YAMLContent []byte `json:"yaml_content"`
}

// WebhookDelivery is the wire shape of a claimable agent-targeted
// delivery.
type WebhookDelivery struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	URL            string          `json:"url"`
	AuthHeader     string          `json:"auth_header,omitempty"`
}

// Heartbeat records the agent as alive. Last-writer-wins: a heartbeat
// that arrives out of order with another is benign (spec.md §5).
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/agents/%s/heartbeat", agentID), nil, nil)
}

// PendingDeploymentObjects returns the lowest-sequence un-applied
// deployment object per stack this agent targets.
func (c *Client) PendingDeploymentObjects(ctx context.Context, agentID string) ([]DeploymentObject, error) {
	var out []DeploymentObject
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/agents/%s/deployment-objects/pending", agentID), nil, &out)
	return out, err
}

// ReportDeploymentOutcome reports an apply success or failure for a
// deployment object.
func (c *Client) ReportDeploymentOutcome(ctx context.Context, agentID, deploymentObjectID string, success bool, errDetail string) error {
	body := map[string]any{
		"status":       outcomeStatus(success),
		"error_detail": errDetail,
	}
	path := fmt.Sprintf("/api/v1/agents/%s/deployment-objects/%s/outcome", agentID, deploymentObjectID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// PendingWorkOrders lists work orders this agent is eligible for, for
// the given work type.
func (c *Client) PendingWorkOrders(ctx context.Context, agentID, workType string) ([]WorkOrder, error) {
	var out []WorkOrder
	q := url.Values{}
	if workType != "" {
		q.Set("work_type", workType)
	}
	path := fmt.Sprintf("/api/v1/agents/%s/work-orders/pending", agentID)
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ClaimWorkOrder attempts to claim a work order. A false result with a
// nil error means the agent lost the race to another claimant.
func (c *Client) ClaimWorkOrder(ctx context.Context, agentID, workOrderID string) (bool, error) {
	var resp struct {
		Claimed bool `json:"claimed"`
	}
	path := fmt.Sprintf("/api/v1/work-orders/%s/claim", workOrderID)
	err := c.do(ctx, http.MethodPost, path, map[string]string{"agent_id": agentID}, &resp)
	return resp.Claimed, err
}

// CompleteWorkOrder reports the terminal result of a claimed work
// order.
func (c *Client) CompleteWorkOrder(ctx context.Context, agentID, workOrderID string, success bool, resultMessage string) error {
	body := map[string]any{
		"agent_id":       agentID,
		"success":        success,
		"result_message": resultMessage,
	}
	path := fmt.Sprintf("/api/v1/work-orders/%s/complete", workOrderID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// PendingWebhookDeliveries lists agent-targeted deliveries this agent's
// label set is a superset of.
func (c *Client) PendingWebhookDeliveries(ctx context.Context, agentID string) ([]WebhookDelivery, error) {
	var out []WebhookDelivery
	path := fmt.Sprintf("/api/v1/agents/%s/webhook-deliveries/pending", agentID)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ClaimWebhookDelivery attempts to claim an agent-targeted delivery.
func (c *Client) ClaimWebhookDelivery(ctx context.Context, agentID, deliveryID string) (bool, error) {
	var resp struct {
		Claimed bool `json:"claimed"`
	}
	path := fmt.Sprintf("/api/v1/webhook-deliveries/%s/claim", deliveryID)
	err := c.do(ctx, http.MethodPost, path, map[string]string{"agent_id": agentID}, &resp)
	return resp.Claimed, err
}

// ReportDeliveryOutcome reports the result of a delivery attempt this
// agent made directly to a subscriber's URL.
func (c *Client) ReportDeliveryOutcome(ctx context.Context, agentID, deliveryID string, success bool, errDetail string) error {
	body := map[string]any{
		"agent_id":     agentID,
		"status":       outcomeStatus(success),
		"error_detail": errDetail,
	}
	path := fmt.Sprintf("/api/v1/webhook-deliveries/%s/outcome", deliveryID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func outcomeStatus(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.pak)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
