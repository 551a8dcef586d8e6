package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kovra/internal/principal"
)

// GetFeature reports read access to a feature once the permission gate
// has passed.
func (s *Server) GetFeature(c *gin.Context) {
	p, _ := principal.FromContext(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"feature": strings.ToLower(strings.TrimSpace(c.Param("feature"))),
		"action":  "read",
		"allowed": true,
		"source":  p.Source,
	})
}
