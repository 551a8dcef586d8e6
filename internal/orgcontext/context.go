package orgcontext

import (
	"context"
	"strings"
)

// OrgContextKey is the request context key for the effective organization ID.
type OrgContextKey struct{}

// WithOrgID stores the effective org ID in the context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, strings.TrimSpace(orgID))
}

// OrgIDFromContext returns the effective org ID, if set.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(OrgContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
