package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/colliery-io/brokkr/internal/auth"
	"go.uber.org/zap"
)

// These tests exercise the authorization short-circuits that run before any
// handler touches a DAL store, so a zero-value Server (no real database
// pool) is enough — the request never reaches s.workOrders/s.stacks/etc.

func newTestServer() *Server {
	return &Server{logger: zap.NewNop()}
}

func TestHandleCreateWorkOrderRejectsAgentPrincipal(t *testing.T) {
	s := newTestServer()
	body := bytes.NewBufferString(`{"work_type":"restart"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/work-orders", body), auth.Principal{Kind: auth.KindAgent, AgentID: "agent-1"})
	rec := httptest.NewRecorder()

	s.handleCreateWorkOrder(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleClaimWorkOrderRejectsImpersonation(t *testing.T) {
	s := newTestServer()
	body := bytes.NewBufferString(`{"agent_id":"agent-2"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/work-orders/wo-1/claim", body), auth.Principal{Kind: auth.KindAgent, AgentID: "agent-1"})
	rec := httptest.NewRecorder()

	s.handleClaimWorkOrder(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCompleteWorkOrderRejectsImpersonation(t *testing.T) {
	s := newTestServer()
	body := bytes.NewBufferString(`{"agent_id":"agent-2","success":true}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/work-orders/wo-1/complete", body), auth.Principal{Kind: auth.KindAgent, AgentID: "agent-1"})
	rec := httptest.NewRecorder()

	s.handleCompleteWorkOrder(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleClaimDeliveryRejectsImpersonation(t *testing.T) {
	s := newTestServer()
	body := bytes.NewBufferString(`{"agent_id":"agent-2"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/webhook-deliveries/d-1/claim", body), auth.Principal{Kind: auth.KindAgent, AgentID: "agent-1"})
	rec := httptest.NewRecorder()

	s.handleClaimDelivery(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateAgentRejectsNonAdmin(t *testing.T) {
	s := newTestServer()
	body := bytes.NewBufferString(`{"name":"a1","cluster_name":"c1"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/agents", body), auth.Principal{Kind: auth.KindGenerator, GeneratorID: "g1"})
	rec := httptest.NewRecorder()

	s.handleCreateAgent(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateGeneratorRejectsNonAdmin(t *testing.T) {
	s := newTestServer()
	body := bytes.NewBufferString(`{"name":"g1"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/generators", body), auth.Principal{Kind: auth.KindAgent, AgentID: "a1"})
	rec := httptest.NewRecorder()

	s.handleCreateGenerator(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateWebhookSubscriptionRejectsNonAdmin(t *testing.T) {
	s := newTestServer()
	body := bytes.NewBufferString(`{"name":"sub1","url":"https://example.com"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/webhook-subscriptions", body), auth.Principal{Kind: auth.KindGenerator, GeneratorID: "g1"})
	rec := httptest.NewRecorder()

	s.handleCreateWebhookSubscription(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHealthzAlwaysOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %+v", body)
	}
}

func TestHandleConfigReloadRejectsNonAdmin(t *testing.T) {
	s := newTestServer()
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/config/reload", nil), auth.Principal{Kind: auth.KindGenerator, GeneratorID: "g1"})
	rec := httptest.NewRecorder()

	s.handleConfigReload(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleConfigReloadUnavailableWithoutReloader(t *testing.T) {
	s := newTestServer()
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/config/reload", nil), auth.Principal{Kind: auth.KindAdmin})
	rec := httptest.NewRecorder()

	s.handleConfigReload(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

type stubReloader struct{ called bool }

func (r *stubReloader) Reload() { r.called = true }

func TestHandleConfigReloadInvokesReloader(t *testing.T) {
	reloader := &stubReloader{}
	s := newTestServer()
	s.reloader = reloader
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/admin/config/reload", nil), auth.Principal{Kind: auth.KindAdmin})
	rec := httptest.NewRecorder()

	s.handleConfigReload(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if !reloader.called {
		t.Fatal("expected reloader.Reload to be called")
	}
}
