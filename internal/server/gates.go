package server

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/auth/scope"
	"github.com/smallbiznis/kovra/internal/principal"
)

// RequireRole allows principals holding any of the given roles.
func (s *Server) RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, autherr.ErrNoCredential)
			return
		}
		if !p.HasAnyRole(allowed...) {
			AbortWithError(c, autherr.Denied(autherr.ErrInsufficientPermissions, allowed, nonNilStrings(p.Roles)))
			return
		}
		c.Next()
	}
}

// RequireScope gates api-key principals on an exact scope. User sessions
// carry full access and pass.
func (s *Server) RequireScope(required scope.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, autherr.ErrNoCredential)
			return
		}
		if p.Source.IsJWT() {
			c.Next()
			return
		}

		var current []string
		if p.APIKey != nil {
			current = p.APIKey.Scopes
		}
		if !scope.Has(current, required) {
			AbortWithError(c, autherr.Denied(autherr.ErrMissingScope, string(required), nonNilStrings(current)))
			return
		}
		c.Next()
	}
}

// CheckWorkflowAccess enforces the api-key workflow allow-list against the
// named path parameter. An empty allow-list grants every workflow.
func (s *Server) CheckWorkflowAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, autherr.ErrNoCredential)
			return
		}
		if p.Source.IsJWT() || p.APIKey == nil || len(p.APIKey.AllowedWorkflows) == 0 {
			c.Next()
			return
		}

		workflowID := strings.TrimSpace(c.Param(param))
		if !slices.Contains(p.APIKey.AllowedWorkflows, workflowID) {
			AbortWithError(c, autherr.Denied(autherr.ErrWorkflowNotAllowed, workflowID, p.APIKey.AllowedWorkflows))
			return
		}
		c.Next()
	}
}

// CheckPermission matches external principals against their identity
// provider permissions. Other sources pass. A feature written as ":name" is
// read from that path parameter.
func (s *Server) CheckPermission(feature, action string) gin.HandlerFunc {
	param, fromPath := strings.CutPrefix(feature, ":")
	return func(c *gin.Context) {
		if fromPath {
			s.checkPermission(c, c.Param(param), action)
			return
		}
		s.checkPermission(c, feature, action)
	}
}

func (s *Server) checkPermission(c *gin.Context, feature, action string) {
	p, ok := principal.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, autherr.ErrNoCredential)
		return
	}
	if p.Source != principal.SourceExternal {
		c.Next()
		return
	}
	if !scope.MatchPermission(p.Permissions, feature, action) {
		required := strings.ToLower(strings.TrimSpace(feature)) + ":" + strings.ToLower(strings.TrimSpace(action))
		AbortWithError(c, autherr.Denied(autherr.ErrInsufficientPermissions, required, nonNilStrings(p.Permissions)))
		return
	}
	c.Next()
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
