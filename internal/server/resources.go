package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kovra/internal/principal"
	resourcedomain "github.com/smallbiznis/kovra/internal/resource/domain"
	"go.uber.org/zap"
)

func (s *Server) CreateResource(c *gin.Context) {
	var req resourcedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.resourceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListResources(c *gin.Context) {
	var req resourcedomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.resourceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetResource(c *gin.Context) {
	resp, err := s.resourceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteResource(c *gin.Context) {
	if err := s.resourceSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ExecuteWorkflow acknowledges an authorized execution request. Running the
// workflow belongs to the workflow platform.
func (s *Server) ExecuteWorkflow(c *gin.Context) {
	workflowID := strings.TrimSpace(c.Param("workflowId"))
	if workflowID == "" {
		AbortWithError(c, newValidationError("workflow_id", "required", "workflow id is required"))
		return
	}

	p, _ := principal.FromContext(c.Request.Context())
	s.log.Info("workflow execution authorized",
		zap.String("workflow_id", workflowID),
		zap.String("source", string(p.Source)),
		zap.String("org_id", p.OrgID),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"workflow_id": workflowID,
		"org_id":      p.OrgID,
		"status":      "accepted",
	})
}
