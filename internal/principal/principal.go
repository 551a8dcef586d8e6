// Package principal defines the normalized identity attached to every
// authenticated request.
package principal

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Source tags how a Principal was authenticated.
type Source string

const (
	SourceLocal     Source = "local"
	SourceExternal  Source = "external"
	SourceAPIKey    Source = "api-key"
	SourceDevBypass Source = "dev-bypass"
)

// IsJWT reports whether the source represents a full-access user session.
func (s Source) IsJWT() bool {
	switch s {
	case SourceLocal, SourceExternal, SourceDevBypass:
		return true
	default:
		return false
	}
}

const (
	RoleOwner     = "OWNER"
	RoleAdmin     = "ADMIN"
	RoleDeveloper = "DEVELOPER"
	RoleUser      = "USER"
	RoleViewer    = "VIEWER"
)

// APIKeyGrant is the side-channel carried by api-key principals.
type APIKeyGrant struct {
	ID               string   `json:"id"`
	Scopes           []string `json:"scopes"`
	AllowedWorkflows []string `json:"allowed_workflows"`
}

// Principal is rebuilt on every request and never persisted.
type Principal struct {
	UserID      string    `json:"user_id"`
	ExternalID  string    `json:"external_id,omitempty"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	OrgID       string    `json:"org_id"`
	OrgName     string    `json:"org_name,omitempty"`
	OrgIDs      []string  `json:"org_ids"`
	OrgRole     string    `json:"org_role,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	Source      Source    `json:"source"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`

	APIKey *APIKeyGrant `json:"api_key,omitempty"`
}

// HasAnyRole reports whether any of the principal's roles is in allowed.
func (p *Principal) HasAnyRole(allowed ...string) bool {
	if p == nil {
		return false
	}
	for _, role := range p.Roles {
		for _, want := range allowed {
			if strings.EqualFold(role, want) {
				return true
			}
		}
	}
	return false
}

// CanAccessOrg reports whether orgID is the primary org or in the accessible list.
func (p *Principal) CanAccessOrg(orgID string) bool {
	if p == nil {
		return false
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return false
	}
	return orgID == p.OrgID || slices.Contains(p.OrgIDs, orgID)
}

// WithOrg returns a copy whose effective org is orgID.
func (p *Principal) WithOrg(orgID string) *Principal {
	next := *p
	next.OrgID = orgID
	return &next
}

// Builder assembles a Principal field by field.
type Builder struct {
	p Principal
}

func NewBuilder(source Source) *Builder {
	return &Builder{p: Principal{Source: source}}
}

func (b *Builder) User(id, externalID, email, name string) *Builder {
	b.p.UserID = strings.TrimSpace(id)
	b.p.ExternalID = strings.TrimSpace(externalID)
	b.p.Email = strings.TrimSpace(email)
	b.p.Name = strings.TrimSpace(name)
	return b
}

// Org sets the primary org. An empty orgIDs list defaults to the primary org.
func (b *Builder) Org(orgID, orgName, orgRole string, orgIDs []string) *Builder {
	b.p.OrgID = strings.TrimSpace(orgID)
	b.p.OrgName = strings.TrimSpace(orgName)
	b.p.OrgRole = strings.TrimSpace(orgRole)
	b.p.OrgIDs = compact(orgIDs)
	if len(b.p.OrgIDs) == 0 && b.p.OrgID != "" {
		b.p.OrgIDs = []string{b.p.OrgID}
	}
	return b
}

func (b *Builder) Roles(roles ...string) *Builder {
	b.p.Roles = compact(roles)
	return b
}

func (b *Builder) Permissions(perms ...string) *Builder {
	b.p.Permissions = compact(perms)
	return b
}

func (b *Builder) ExpiresAt(t time.Time) *Builder {
	b.p.ExpiresAt = t
	return b
}

func (b *Builder) APIKey(grant APIKeyGrant) *Builder {
	grant.Scopes = compact(grant.Scopes)
	grant.AllowedWorkflows = compact(grant.AllowedWorkflows)
	b.p.APIKey = &grant
	return b
}

func (b *Builder) Build() *Principal {
	out := b.p
	if out.Roles == nil {
		out.Roles = []string{}
	}
	if out.Permissions == nil {
		out.Permissions = []string{}
	}
	if out.OrgIDs == nil {
		out.OrgIDs = []string{}
	}
	return &out
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

type contextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}
