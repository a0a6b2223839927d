// Package auth resolves a bearer token to a Brokkr principal (admin, agent,
// or generator) — spec.md §4.3. Grounded on the teacher's
// internal/controlplane/auth (prefix-based key generation and lookup,
// Permission/Role shape) but the hashing scheme is changed: the teacher
// hashes with bcrypt, which is intentionally slow and salted and therefore
// cannot be looked up by indexed equality. Brokkr's PAK format instead
// splits the token into a short_token (a plaintext identifier carried in
// the token; it is neither stored nor used for lookup) and long_token
// (SHA-256 hashed, indexed), matching the "constant-time indexed
// hash lookup" spec.md §4.3 requires.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Principal identifies who a resolved bearer token belongs to.
type Principal struct {
	Kind        PrincipalKind
	AgentID     string
	GeneratorID string
}

type PrincipalKind int

const (
	KindAdmin PrincipalKind = iota
	KindAgent
	KindGenerator
)

func (p Principal) IsAdmin() bool { return p.Kind == KindAdmin }

// Params are the PAK generation parameters (config group `pak`).
type Params struct {
	Prefix           string
	ShortTokenLength int
	LongTokenLength  int
}

// DefaultParams matches the defaults documented in spec.md §6.
func DefaultParams() Params {
	return Params{Prefix: "brk", ShortTokenLength: 12, LongTokenLength: 32}
}

// Generate creates a new PAK: "<prefix>_<short_token><long_token>", and
// returns the plaintext token plus the short token and the long token's
// SHA-256 hex digest (stored as the indexed hash column). The plaintext is
// returned once and never stored — only the long_token hash persists.
func Generate(p Params) (plaintext, shortToken, longTokenHash string, err error) {
	short, err := randomHex(p.ShortTokenLength)
	if err != nil {
		return "", "", "", fmt.Errorf("auth: generate short token: %w", err)
	}
	long, err := randomHex(p.LongTokenLength)
	if err != nil {
		return "", "", "", fmt.Errorf("auth: generate long token: %w", err)
	}

	plaintext = fmt.Sprintf("%s_%s%s", p.Prefix, short, long)
	return plaintext, short, HashLongToken(long), nil
}

// HashLongToken returns the indexed lookup hash for a long token. Unsalted
// SHA-256 is deliberate: the column must support an equality index lookup,
// which a per-row-salted hash (bcrypt, scrypt, argon2) cannot do without an
// unindexed full-table scan.
func HashLongToken(longToken string) string {
	sum := sha256.Sum256([]byte(longToken))
	return hex.EncodeToString(sum[:])
}

// Split parses a presented bearer token into its prefix, short token, and
// long token. It checks that a '_' separator is present and that the text
// after it holds a full-length short token plus at least one more
// character; the long token's length is not checked. Returns an error
// (never a partial result) when either check fails.
func Split(token string, p Params) (prefix, short, long string, err error) {
	idx := strings.IndexByte(token, '_')
	if idx < 0 {
		return "", "", "", fmt.Errorf("auth: malformed token")
	}
	prefix = token[:idx]
	rest := token[idx+1:]

	shortHexLen := p.ShortTokenLength * 2
	if len(rest) < shortHexLen+1 {
		return "", "", "", fmt.Errorf("auth: malformed token")
	}
	short = rest[:shortHexLen]
	long = rest[shortHexLen:]
	return prefix, short, long, nil
}

// HashLookup is satisfied by any DAL store that can resolve an indexed
// pak_hash to an entity id (agents and generators both implement this
// shape — see internal/dal/agent and internal/dal/generator).
type HashLookup interface {
	LookupByPAKHash(ctx context.Context, hash string) (id string, ok bool, err error)
}

// Resolver resolves bearer tokens to a Principal per spec.md §4.3: the
// token is hashed once, then checked against agents, then generators, then
// the configured admin hash — in constant work independent of the number
// of agents/generators, since each check is a single indexed lookup rather
// than a scan. Failure is always the same uniform error regardless of
// which check failed, so a caller can never learn which table (or
// admin) almost matched.
type Resolver struct {
	params    Params
	agents    HashLookup
	generators HashLookup
	adminHash string
}

// NewResolver builds a Resolver. adminHashHex is the SHA-256 hex digest of
// the admin long token (broker.pak_hash configuration field).
func NewResolver(params Params, agents, generators HashLookup, adminHashHex string) *Resolver {
	return &Resolver{params: params, agents: agents, generators: generators, adminHash: adminHashHex}
}

var ErrUnauthorized = fmt.Errorf("auth: unauthorized")

// Resolve turns a presented bearer token into a Principal.
func (r *Resolver) Resolve(ctx context.Context, token string) (Principal, error) {
	_, _, long, err := Split(token, r.params)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	hash := HashLongToken(long)

	if r.agents != nil {
		if id, ok, err := r.agents.LookupByPAKHash(ctx, hash); err == nil && ok {
			return Principal{Kind: KindAgent, AgentID: id}, nil
		}
	}
	if r.generators != nil {
		if id, ok, err := r.generators.LookupByPAKHash(ctx, hash); err == nil && ok {
			return Principal{Kind: KindGenerator, GeneratorID: id}, nil
		}
	}
	if r.adminHash != "" && constantTimeEqualHex(hash, r.adminHash) {
		return Principal{Kind: KindAdmin}, nil
	}

	return Principal{}, ErrUnauthorized
}

func constantTimeEqualHex(a, b string) bool {
	if len(a) != len(b) {
		// Still do a constant-time compare against a same-length dummy so
		// a length mismatch doesn't short-circuit timing differently from
		// a length match that fails on content.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
