package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHeartbeatSendsBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BrokerURL: srv.URL, PAK: "brokkr_agent_abc123"})
	if err := c.Heartbeat(context.Background(), "agent-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer brokkr_agent_abc123" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestPendingDeploymentObjectsDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode([]DeploymentObject{
			{ID: "do-1", StackID: "stack-1", SequenceID: 3},
		})
	}))
	defer srv.Close()

	c := New(Config{BrokerURL: srv.URL, PAK: "x"})
	objs, err := c.PendingDeploymentObjects(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objs) != 1 || objs[0].ID != "do-1" || objs[0].SequenceID != 3 {
		t.Fatalf("unexpected objects: %+v", objs)
	}
}

func TestClaimWorkOrderReturnsFalseOnRaceLoss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"claimed": false})
	}))
	defer srv.Close()

	c := New(Config{BrokerURL: srv.URL, PAK: "x"})
	claimed, err := c.ClaimWorkOrder(context.Background(), "agent-1", "wo-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Fatal("expected claimed=false on a lost race")
	}
}

func TestNonSuccessStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{BrokerURL: srv.URL, PAK: "x"})
	if err := c.Heartbeat(context.Background(), "agent-1"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}
