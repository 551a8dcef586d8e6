package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
)

// ListJWKSKeys returns the kids of the cached provider key set.
func (s *Server) ListJWKSKeys(c *gin.Context) {
	kids := []string{}
	if s.jwks != nil {
		kids = append(kids, s.jwks.Keys()...)
	}
	c.JSON(http.StatusOK, gin.H{"keys": kids})
}

// RefreshJWKS expires the cached key set. The next external token triggers
// a fetch, and the old set stays available if that fetch fails.
func (s *Server) RefreshJWKS(c *gin.Context) {
	if s.jwks == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	s.jwks.Invalidate()
	s.log.Info("jwks cache invalidated")
	s.audit(c, auditdomain.ActionJWKSInvalidated, "jwks", "", nil)
	c.Status(http.StatusNoContent)
}
