package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colliery-io/brokkr/internal/agentclient"
)

func newTestAgent(t *testing.T, handler http.HandlerFunc) (*Agent, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	broker := agentclient.New(agentclient.Config{BrokerURL: srv.URL, PAK: "x"})
	a := New(Config{AgentID: "agent-1", WorkTypes: []string{"build"}}, broker, nil, nil)
	return a, srv
}

func TestClaimAndRunWorkOrderSkipsOnLostRace(t *testing.T) {
	var completeCalled int32
	a, srv := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/claim"):
			_ = json.NewEncoder(w).Encode(map[string]bool{"claimed": false})
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/complete"):
			atomic.AddInt32(&completeCalled, 1)
		}
	})
	defer srv.Close()

	called := false
	a.claimAndRunWorkOrder(context.Background(), agentclient.WorkOrder{ID: "wo-1"}, func(ctx context.Context, yaml []byte) (bool, string) {
		called = true
		return true, "done"
	})

	if called {
		t.Fatal("handler should not run when the claim is lost")
	}
	if atomic.LoadInt32(&completeCalled) != 0 {
		t.Fatal("complete should not be reported when the claim is lost")
	}
}

func TestClaimAndRunWorkOrderRunsHandlerOnSuccessfulClaim(t *testing.T) {
	var gotSuccess bool
	var gotMessage string
	a, srv := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/claim"):
			_ = json.NewEncoder(w).Encode(map[string]bool{"claimed": true})
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/complete"):
			var body struct {
				Success       bool   `json:"success"`
				ResultMessage string `json:"result_message"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotSuccess = body.Success
			gotMessage = body.ResultMessage
		}
	})
	defer srv.Close()

	a.claimAndRunWorkOrder(context.Background(), agentclient.WorkOrder{ID: "wo-1"}, func(ctx context.Context, yaml []byte) (bool, string) {
		return true, "build succeeded"
	})

	if !gotSuccess {
		t.Fatal("expected success=true reported")
	}
	if gotMessage != "build succeeded" {
		t.Fatalf("unexpected result message: %q", gotMessage)
	}
}

func TestTickDoesNotBlockOnHeartbeatFailure(t *testing.T) {
	a, srv := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "heartbeat") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]agentclient.DeploymentObject{})
	})
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		a.tick(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick should not block when the heartbeat call fails")
	}
}
