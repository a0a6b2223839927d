package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIClient is a thin wrapper over the broker's admin-facing HTTP surface
// (/api/v1), authenticated with an admin PAK.
type APIClient struct {
	server string
	pak    string
	http   *http.Client
}

func NewAPIClient(server, pak string) *APIClient {
	return &APIClient{
		server: strings.TrimRight(server, "/"),
		pak:    pak,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

type Stack struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	OwningGeneratorID *string `json:"owning_generator_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

type Agent struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ClusterName     string  `json:"cluster_name"`
	Status          string  `json:"status"`
	LastHeartbeatAt *string `json:"last_heartbeat_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type AgentCreateResult struct {
	Agent
	PAK string `json:"pak"`
}

type Generator struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type GeneratorCreateResult struct {
	Generator
	PAK string `json:"pak"`
}

type WorkOrder struct {
	ID                  string  `json:"id"`
	WorkType            string  `json:"work_type"`
	Status              string  `json:"status"`
	ClaimedBy           *string `json:"claimed_by,omitempty"`
	RetryCount          int     `json:"retry_count"`
	MaxRetries          int     `json:"max_retries"`
	ClaimTimeoutSeconds int     `json:"claim_timeout_seconds"`
	CreatedAt           string  `json:"created_at"`
}

type Template struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Version        int             `json:"version"`
	ParamSchema    json.RawMessage `json:"param_schema"`
	RequiredLabels []string        `json:"required_labels,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.pak)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *APIClient) ListStacks(ctx context.Context) ([]Stack, error) {
	var out []Stack
	err := c.do(ctx, http.MethodGet, "/api/v1/stacks", nil, &out)
	return out, err
}

func (c *APIClient) GetStack(ctx context.Context, id string) (*Stack, error) {
	var out Stack
	if err := c.do(ctx, http.MethodGet, "/api/v1/stacks/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) CreateStack(ctx context.Context, name, description string) (*Stack, error) {
	var out Stack
	req := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/v1/stacks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DeleteStack(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/stacks/"+id, nil, nil)
}

func (c *APIClient) ListAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	err := c.do(ctx, http.MethodGet, "/api/v1/agents", nil, &out)
	return out, err
}

func (c *APIClient) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var out Agent
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) CreateAgent(ctx context.Context, name, clusterName string) (*AgentCreateResult, error) {
	var out AgentCreateResult
	req := map[string]string{"name": name, "cluster_name": clusterName}
	if err := c.do(ctx, http.MethodPost, "/api/v1/agents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/agents/"+id, nil, nil)
}

func (c *APIClient) AddAgentTarget(ctx context.Context, agentID, stackID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/agents/"+agentID+"/targets/"+stackID, nil, nil)
}

func (c *APIClient) ListGenerators(ctx context.Context) ([]Generator, error) {
	var out []Generator
	err := c.do(ctx, http.MethodGet, "/api/v1/generators", nil, &out)
	return out, err
}

func (c *APIClient) CreateGenerator(ctx context.Context, name, description string) (*GeneratorCreateResult, error) {
	var out GeneratorCreateResult
	req := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/v1/generators", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DeleteGenerator(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/generators/"+id, nil, nil)
}

func (c *APIClient) ListWorkOrders(ctx context.Context) ([]WorkOrder, error) {
	var out []WorkOrder
	err := c.do(ctx, http.MethodGet, "/api/v1/work-orders", nil, &out)
	return out, err
}

func (c *APIClient) CreateWorkOrder(ctx context.Context, workType, yamlContent string, agentIDs, labels []string) (*WorkOrder, error) {
	var out WorkOrder
	req := map[string]any{
		"work_type":    workType,
		"yaml_content": yamlContent,
		"agent_ids":    agentIDs,
		"labels":       labels,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/work-orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ListTemplates(ctx context.Context) ([]Template, error) {
	var out []Template
	err := c.do(ctx, http.MethodGet, "/api/v1/templates", nil, &out)
	return out, err
}

func (c *APIClient) CreateTemplate(ctx context.Context, name, textContent string, version int, paramSchema json.RawMessage, requiredLabels []string) (*Template, error) {
	var out Template
	req := map[string]any{
		"name":            name,
		"version":         version,
		"text_content":    textContent,
		"param_schema":    paramSchema,
		"required_labels": requiredLabels,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/templates", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) InstantiateTemplate(ctx context.Context, templateID, stackID string, params map[string]any) (json.RawMessage, error) {
	var out json.RawMessage
	req := map[string]any{"stack_id": stackID, "params": params}
	if err := c.do(ctx, http.MethodPost, "/api/v1/templates/"+templateID+"/instantiate", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) ReloadConfig(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/config/reload", nil, nil)
}
