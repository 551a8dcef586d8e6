package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	"github.com/smallbiznis/kovra/internal/orgcontext"
	"github.com/smallbiznis/kovra/internal/principal"
	"go.uber.org/zap"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	var req auditdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// audit records a security event for the request. Failures are logged and
// never fail the request.
func (s *Server) audit(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

// auditAs records an event on behalf of a principal that is not yet on the
// request context, such as a fresh login.
func (s *Server) auditAs(c *gin.Context, p *principal.Principal, action, targetType, targetID string, metadata map[string]any) {
	if p == nil {
		s.audit(c, action, targetType, targetID, metadata)
		return
	}
	ctx := principal.WithPrincipal(c.Request.Context(), p)
	if p.OrgID != "" {
		ctx = orgcontext.WithOrgID(ctx, p.OrgID)
	}
	c.Request = c.Request.WithContext(ctx)
	s.audit(c, action, targetType, targetID, metadata)
}
