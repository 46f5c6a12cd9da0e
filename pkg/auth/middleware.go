// Package auth authenticates gateway callers by API key and carries the
// resulting tenant through the request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bturcanu/toolbelt/pkg/types"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// APIKeyHeader is checked before "Authorization: Bearer".
const APIKeyHeader = "X-API-Key"

// publicPaths are served without a key.
var publicPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// TenantFromContext returns the authenticated tenant, or "".
func TenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// WithTenant stores tenantID in ctx.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

func apiKey(r *http.Request) string {
	if k := r.Header.Get(APIKeyHeader); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// APIKeyAuth rejects requests without a known API key and sets the tenant
// for the rest.
func APIKeyAuth(keys *KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := apiKey(r)
			if key == "" {
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}
			tenantID, ok := keys.Lookup(key)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
		})
	}
}
