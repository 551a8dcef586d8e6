package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderOrganization = "X-Organization-Id"
	HeaderAPIKey       = "X-API-Key"
)

// LoginThrottle limits login attempts per client IP.
func (s *Server) LoginThrottle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.loginLimiter == nil {
			c.Next()
			return
		}

		decision := s.loginLimiter.Allow(c.Request.Context(), c.ClientIP())
		if !decision.Allowed {
			logger.FromContext(c.Request.Context()).Warn("login throttled",
				zap.String("client_ip", c.ClientIP()),
			)
			AbortWithError(c, &autherr.RateLimitError{RetryAfter: decision.RetryAfter})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func requestedOrgID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderOrganization))
}
