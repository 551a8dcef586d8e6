package token

import (
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleSource is one place a provider may put roles.
type RoleSource struct {
	Name    string
	Extract func(claims jwt.MapClaims, appID string) []string
}

// DefaultRoleSources lists role locations in priority order. The first
// source yielding a non-empty list wins.
var DefaultRoleSources = []RoleSource{
	{Name: "apps.roles", Extract: func(c jwt.MapClaims, appID string) []string {
		return stringList(appClaim(c, appID, "roles"))
	}},
	{Name: "apps.role", Extract: func(c jwt.MapClaims, appID string) []string {
		return stringList(appClaim(c, appID, "role"))
	}},
	{Name: "roles", Extract: topLevel("roles")},
	{Name: "role", Extract: topLevel("role")},
	{Name: "org_role", Extract: topLevel("org_role")},
	{Name: "perfil", Extract: topLevel("perfil")},
	{Name: "perfis", Extract: topLevel("perfis")},
	{Name: "groups", Extract: topLevel("groups")},
	{Name: "realm_access.roles", Extract: func(c jwt.MapClaims, _ string) []string {
		realm, ok := c["realm_access"].(map[string]any)
		if !ok {
			return nil
		}
		return stringList(realm["roles"])
	}},
}

func topLevel(name string) func(jwt.MapClaims, string) []string {
	return func(c jwt.MapClaims, _ string) []string {
		return stringList(c[name])
	}
}

// ExtractRoles walks sources in order and returns the first non-empty list
// along with the name of the source that produced it.
func ExtractRoles(claims jwt.MapClaims, appID string, sources []RoleSource) ([]string, string) {
	for _, src := range sources {
		if roles := src.Extract(claims, appID); len(roles) > 0 {
			return roles, src.Name
		}
	}
	return nil, ""
}

// ExtractPermissions prefers the top-level claim, then the app-scoped one.
func ExtractPermissions(claims jwt.MapClaims, appID string) []string {
	if perms := stringList(claims["permissions"]); len(perms) > 0 {
		return perms
	}
	if perms := stringList(appClaim(claims, appID, "permissions")); len(perms) > 0 {
		return perms
	}
	if access, ok := claims["resource_access"].(map[string]any); ok && appID != "" {
		if app, ok := access[appID].(map[string]any); ok {
			return stringList(app["permissions"])
		}
	}
	return []string{}
}

func appClaim(c jwt.MapClaims, appID, field string) any {
	if appID == "" {
		return nil
	}
	apps, ok := c["apps"].(map[string]any)
	if !ok {
		return nil
	}
	app, ok := apps[appID].(map[string]any)
	if !ok {
		return nil
	}
	return app[field]
}

// stringList accepts a string, a []string or a JSON array of strings.
func stringList(v any) []string {
	switch typed := v.(type) {
	case string:
		if s := strings.TrimSpace(typed); s != "" {
			return []string{s}
		}
	case []string:
		return trimAll(typed)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return trimAll(out)
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringClaim(c jwt.MapClaims, names ...string) string {
	for _, name := range names {
		switch v := c[name].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
