// Package scope holds the API key scope vocabulary and the permission
// matcher used for external principals.
package scope

import (
	"errors"
	"regexp"
	"slices"
	"strings"
)

type Scope string

var ErrInvalidScope = errors.New("invalid_scope")

const (
	ScopeResourcesRead    Scope = "resources:read"
	ScopeResourcesWrite   Scope = "resources:write"
	ScopeWorkflowsRead    Scope = "workflows:read"
	ScopeWorkflowsExecute Scope = "workflows:execute"
)

var allScopes = []Scope{
	ScopeResourcesRead,
	ScopeResourcesWrite,
	ScopeWorkflowsRead,
	ScopeWorkflowsExecute,
}

var scopePattern = regexp.MustCompile(`^[a-z_]+:[a-z_*]+$`)

// All lists the scopes routes are gated on.
func All() []string {
	values := make([]string, len(allScopes))
	for i, scope := range allScopes {
		values[i] = string(scope)
	}
	return values
}

// Has reports exact membership. API key scopes do not expand wildcards.
func Has(scopes []string, required Scope) bool {
	want := normalize(string(required))
	if want == "" {
		return false
	}
	return slices.ContainsFunc(scopes, func(s string) bool {
		return normalize(s) == want
	})
}

// Validate checks the resource:action shape of every scope.
func Validate(scopes []string) error {
	for _, scope := range scopes {
		if !scopePattern.MatchString(scope) {
			return ErrInvalidScope
		}
	}
	return nil
}

// Normalize lower-cases, trims and de-duplicates, keeping first-seen order.
func Normalize(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(scopes))
	normalized := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		value := normalize(scope)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	return normalized
}

// MatchPermission reports whether perms grants action on feature. Accepted
// grants are *, *:*, feature:action, feature:*, category:* and
// category:action, where category is feature up to its first dot.
func MatchPermission(perms []string, feature, action string) bool {
	feature = normalize(feature)
	action = normalize(action)
	if feature == "" || action == "" {
		return false
	}

	candidates := []string{"*", "*:*", feature + ":" + action, feature + ":*"}
	if category, _, found := strings.Cut(feature, "."); found && category != "" {
		candidates = append(candidates, category+":*", category+":"+action)
	}

	for _, perm := range perms {
		if slices.Contains(candidates, normalize(perm)) {
			return true
		}
	}
	return false
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
