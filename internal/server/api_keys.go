package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	authscope "github.com/smallbiznis/kovra/internal/auth/scope"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActionAPIKeyCreated, "api_key", resp.ID, map[string]any{
		"name":       resp.Name,
		"key_prefix": resp.KeyPrefix,
		"scopes":     resp.Scopes,
	})

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListAPIKeyScopes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scopes": authscope.All()})
}

func (s *Server) GetAPIKey(c *gin.Context) {
	key, err := s.apiKeySvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

// RegenerateAPIKey rotates the secret. The new raw key is returned once.
func (s *Server) RegenerateAPIKey(c *gin.Context) {
	resp, err := s.apiKeySvc.Regenerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActionAPIKeyRotated, "api_key", resp.ID, map[string]any{"key_prefix": resp.KeyPrefix})

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	if err := s.apiKeySvc.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActionAPIKeyRevoked, "api_key", c.Param("id"), nil)

	c.Status(http.StatusNoContent)
}

func (s *Server) DeleteAPIKey(c *gin.Context) {
	if err := s.apiKeySvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActionAPIKeyDeleted, "api_key", c.Param("id"), nil)

	c.Status(http.StatusNoContent)
}
