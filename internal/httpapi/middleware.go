package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/colliery-io/brokkr/internal/auth"
)

type principalKeyType struct{}

var principalKey principalKeyType

// maxBodyBytes bounds POST/PUT/PATCH bodies, ported verbatim from the
// teacher's internal/controlplane/server/body_limit.go.
const maxBodyBytes int64 = 1 << 20

func maxBodySizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			if r.ContentLength > maxBodyBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large (limit 1MB)")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the bearer token into an internal/auth.Principal
// and stores it on the request context. Unauthenticated requests are
// rejected uniformly (spec.md §7: "never distinguishes which credential
// type failed").
func authMiddleware(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			principal, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func principalFrom(r *http.Request) (auth.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(auth.Principal)
	return p, ok
}

// requireAdmin returns a Forbidden error unless the caller is the admin
// principal — used by routes spec.md §6 scopes to admin only (generator
// and agent creation, soft-delete, config reload).
func requireAdmin(r *http.Request) error {
	p, ok := principalFrom(r)
	if !ok || !p.IsAdmin() {
		return forbiddenErr
	}
	return nil
}
