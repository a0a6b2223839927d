package auth

import (
	"context"
	"testing"
)

type fakeLookup map[string]string // hash -> id

func (f fakeLookup) LookupByPAKHash(_ context.Context, hash string) (string, bool, error) {
	id, ok := f[hash]
	return id, ok, nil
}

func TestGenerateSplitRoundTrip(t *testing.T) {
	p := DefaultParams()
	plaintext, short, hash, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotPrefix, gotShort, gotLong, err := Split(plaintext, p)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if gotPrefix != p.Prefix {
		t.Errorf("prefix = %q, want %q", gotPrefix, p.Prefix)
	}
	if gotShort != short {
		t.Errorf("short token = %q, want %q", gotShort, short)
	}
	if HashLongToken(gotLong) != hash {
		t.Errorf("hash of split long token does not match Generate's returned hash")
	}
}

func TestResolverResolvesAgentGeneratorAdmin(t *testing.T) {
	p := DefaultParams()

	agentToken, _, agentHash, _ := Generate(p)
	genToken, _, genHash, _ := Generate(p)
	adminToken, _, adminHash, _ := Generate(p)

	r := NewResolver(p,
		fakeLookup{agentHash: "agent-1"},
		fakeLookup{genHash: "generator-1"},
		adminHash,
	)

	principal, err := r.Resolve(context.Background(), agentToken)
	if err != nil || principal.Kind != KindAgent || principal.AgentID != "agent-1" {
		t.Errorf("agent resolve = %+v, err=%v", principal, err)
	}

	principal, err = r.Resolve(context.Background(), genToken)
	if err != nil || principal.Kind != KindGenerator || principal.GeneratorID != "generator-1" {
		t.Errorf("generator resolve = %+v, err=%v", principal, err)
	}

	principal, err = r.Resolve(context.Background(), adminToken)
	if err != nil || !principal.IsAdmin() {
		t.Errorf("admin resolve = %+v, err=%v", principal, err)
	}
}

func TestResolverUniformFailure(t *testing.T) {
	p := DefaultParams()
	r := NewResolver(p, fakeLookup{}, fakeLookup{}, "")

	_, err := r.Resolve(context.Background(), "brk_deadbeefdeadbeefdeadbeef")
	if err != ErrUnauthorized {
		t.Errorf("Resolve() with unknown token: err = %v, want ErrUnauthorized", err)
	}

	_, err = r.Resolve(context.Background(), "not-even-a-token")
	if err != ErrUnauthorized {
		t.Errorf("Resolve() with malformed token: err = %v, want ErrUnauthorized", err)
	}
}
