package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	"github.com/smallbiznis/kovra/internal/principal"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenResponse struct {
	Success      bool                 `json:"success"`
	Principal    *principal.Principal `json:"principal"`
	AccessToken  string               `json:"access_token"`
	RefreshToken string               `json:"refresh_token"`
	TokenType    string               `json:"token_type"`
	ExpiresIn    int64                `json:"expires_in"`
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}
	if req.Password == "" {
		AbortWithError(c, newValidationError("password", "required", "password is required"))
		return
	}

	result, err := s.authsvc.Login(c.Request.Context(), authdomain.LoginRequest{
		Email:     email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		s.obsMetrics.RecordAuthAttempt(c.Request.Context(), string(principal.SourceLocal), outcomeRejected)
		if errors.Is(err, authdomain.ErrInvalidCredentials) {
			s.audit(c, auditdomain.ActionLoginFailed, "user", "", map[string]any{"email": email})
		}
		AbortWithError(c, err)
		return
	}

	s.obsMetrics.RecordAuthAttempt(c.Request.Context(), string(principal.SourceLocal), outcomeSuccess)
	s.log.Info("user logged in", zap.String("user_id", result.Principal.UserID))
	s.auditAs(c, result.Principal, auditdomain.ActionLogin, "user", result.Principal.UserID, nil)
	s.respondWithTokens(c, result)
}

func (s *Server) Refresh(c *gin.Context) {
	raw, ok := s.sessions.ReadToken(c)
	if !ok {
		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		raw = strings.TrimSpace(req.RefreshToken)
	}
	if raw == "" {
		AbortWithError(c, autherr.ErrNoCredential)
		return
	}

	result, err := s.authsvc.Refresh(c.Request.Context(), raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respondWithTokens(c, result)
}

func (s *Server) Logout(c *gin.Context) {
	s.sessions.Clear(c)
	if p, ok := principal.FromContext(c.Request.Context()); ok {
		s.audit(c, auditdomain.ActionLogout, "user", p.UserID, nil)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
	p, ok := principal.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, autherr.ErrNoCredential)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"principal": p,
	})
}

func (s *Server) ChangePassword(c *gin.Context) {
	p, ok := principal.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, autherr.ErrNoCredential)
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	currentPassword := strings.TrimSpace(req.CurrentPassword)
	newPassword := strings.TrimSpace(req.NewPassword)
	if currentPassword == "" {
		AbortWithError(c, newValidationError("current_password", "required", "current password is required"))
		return
	}
	if newPassword == "" {
		AbortWithError(c, newValidationError("new_password", "required", "new password is required"))
		return
	}
	if currentPassword == newPassword {
		AbortWithError(c, newValidationError("new_password", "must_differ", "new password must be different"))
		return
	}

	if err := s.authsvc.ChangePassword(c.Request.Context(), authdomain.ChangePasswordRequest{
		UserID:          p.UserID,
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActionPasswordChanged, "user", p.UserID, nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) respondWithTokens(c *gin.Context, result *authdomain.LoginResult) {
	pair := result.Tokens
	s.sessions.Set(c, pair.RefreshToken, pair.RefreshExpiresAt)

	c.JSON(http.StatusOK, tokenResponse{
		Success:      true,
		Principal:    result.Principal,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}
