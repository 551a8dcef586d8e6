package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	organizationdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/principal"
)

// ListUserOrgs lists the caller's local memberships. Principals without a
// local identity have none.
func (s *Server) ListUserOrgs(c *gin.Context) {
	p, ok := principal.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, autherr.ErrNoCredential)
		return
	}

	userID, err := snowflake.ParseString(p.UserID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"orgs": []organizationdomain.OrganizationListResponseItem{}})
		return
	}

	orgs, err := s.organizationSvc.ListOrganizationsByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if orgs == nil {
		orgs = []organizationdomain.OrganizationListResponseItem{}
	}

	c.JSON(http.StatusOK, gin.H{"orgs": orgs})
}
