package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/colliery-io/brokkr/internal/auth"
)

// fakeHashLookup is a minimal in-memory internal/auth.HashLookup, used so
// these tests never touch a real agent/generator store.
type fakeHashLookup map[string]string

func (f fakeHashLookup) LookupByPAKHash(ctx context.Context, hash string) (string, bool, error) {
	id, ok := f[hash]
	return id, ok, nil
}

func newTestResolver(t *testing.T) (*auth.Resolver, func() string, func() string, func() string) {
	t.Helper()
	params := auth.DefaultParams()

	agentPlain, _, agentHash, err := auth.Generate(params)
	if err != nil {
		t.Fatalf("generate agent PAK: %v", err)
	}
	genPlain, _, genHash, err := auth.Generate(params)
	if err != nil {
		t.Fatalf("generate generator PAK: %v", err)
	}
	adminPlain, _, adminHash, err := auth.Generate(params)
	if err != nil {
		t.Fatalf("generate admin PAK: %v", err)
	}

	agents := fakeHashLookup{agentHash: "agent-1"}
	generators := fakeHashLookup{genHash: "generator-1"}

	resolver := auth.NewResolver(params, agents, generators, adminHash)
	return resolver, func() string { return agentPlain }, func() string { return genPlain }, func() string { return adminPlain }
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	handler := authMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stacks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsGarbageToken(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	handler := authMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stacks", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareResolvesEachPrincipalKind(t *testing.T) {
	resolver, agentToken, genToken, adminToken := newTestResolver(t)

	cases := []struct {
		name     string
		token    string
		wantKind auth.PrincipalKind
	}{
		{"agent", agentToken(), auth.KindAgent},
		{"generator", genToken(), auth.KindGenerator},
		{"admin", adminToken(), auth.KindAdmin},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got auth.Principal
			handler := authMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = principalFrom(r)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/stacks", nil)
			req.Header.Set("Authorization", "Bearer "+c.token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if got.Kind != c.wantKind {
				t.Fatalf("expected principal kind %v, got %v", c.wantKind, got.Kind)
			}
		})
	}
}

func TestBearerTokenParsesAuthorizationHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	if got := bearerToken(req); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}

func TestBearerTokenRejectsNonBearerScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	if got := bearerToken(req); got != "" {
		t.Fatalf("expected empty string for non-bearer scheme, got %q", got)
	}
}

func withPrincipal(r *http.Request, p auth.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalKey, p))
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), auth.Principal{Kind: auth.KindGenerator, GeneratorID: "g1"})
	if err := requireAdmin(req); err == nil {
		t.Fatal("expected an error for a non-admin principal")
	}
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), auth.Principal{Kind: auth.KindAdmin})
	if err := requireAdmin(req); err != nil {
		t.Fatalf("unexpected error for admin principal: %v", err)
	}
}

func TestMaxBodySizeMiddlewareRejectsOversizedContentLength(t *testing.T) {
	handler := maxBodySizeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an oversized body")
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.ContentLength = maxBodyBytes + 1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestMaxBodySizeMiddlewarePassesThroughGET(t *testing.T) {
	ran := false
	handler := maxBodySizeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !ran {
		t.Fatal("expected GET requests to pass through untouched")
	}
}
