// Package tenant resolves the tenant path segment into a tenant id.
// Slug resolution against a tenant directory is an external collaborator;
// here the segment is validated and carried through the request context.
package tenant

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// Middleware reads the {tenant} URL parameter and stores it in context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenant")
		if tenantID == "" {
			http.Error(w, "missing tenant segment", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the tenant id resolved for this request.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(tenantKey).(string); ok {
		return id
	}
	return ""
}

// WithTenant is used by tests to set a tenant without routing.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}
