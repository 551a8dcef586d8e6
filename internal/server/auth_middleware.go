package server

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	obscontext "github.com/smallbiznis/kovra/internal/observability/context"
	"github.com/smallbiznis/kovra/internal/observability/logger"
	organizationdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/orgcontext"
	"github.com/smallbiznis/kovra/internal/principal"
	"go.uber.org/zap"
)

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
)

// Authenticate resolves the caller from an API key, a local or external
// JWT, or the development bypass, and rejects the request otherwise.
func (s *Server) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.resolvePrincipal(c)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("authentication rejected",
				zap.String("error_code", autherr.Code(err)),
			)
			AbortWithError(c, err)
			return
		}
		s.attachPrincipal(c, p)
		c.Next()
	}
}

// OptionalAuth attaches a principal when one resolves and otherwise lets
// the request through anonymously.
func (s *Server) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.resolvePrincipal(c)
		if err == nil {
			s.attachPrincipal(c, p)
		}
		c.Next()
	}
}

// RequireSource rejects principals authenticated by any other source.
func (s *Server) RequireSource(sources ...principal.Source) gin.HandlerFunc {
	allowed := make([]string, 0, len(sources))
	for _, src := range sources {
		allowed = append(allowed, string(src))
	}
	return func(c *gin.Context) {
		p, ok := principal.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, autherr.ErrNoCredential)
			return
		}
		for _, src := range sources {
			if p.Source == src {
				c.Next()
				return
			}
		}
		AbortWithError(c, autherr.Denied(autherr.ErrInsufficientPermissions, allowed, string(p.Source)))
	}
}

// resolvePrincipal runs credential resolution and the organization
// cross-check.
func (s *Server) resolvePrincipal(c *gin.Context) (*principal.Principal, error) {
	p, source, err := s.authenticate(c)
	ctx := c.Request.Context()
	if err != nil {
		s.obsMetrics.RecordAuthAttempt(ctx, source, outcomeRejected)
		return nil, err
	}

	p, err = s.applyRequestedOrg(c, p)
	if err != nil {
		s.obsMetrics.RecordAuthAttempt(ctx, source, outcomeRejected)
		return nil, err
	}

	s.obsMetrics.RecordAuthAttempt(ctx, source, outcomeSuccess)
	return p, nil
}

func (s *Server) authenticate(c *gin.Context) (*principal.Principal, string, error) {
	if raw, ok := extractAPIKey(c); ok {
		p, err := s.authenticateAPIKey(c, raw)
		return p, string(principal.SourceAPIKey), err
	}

	raw := bearerToken(c)
	if raw == "" {
		if p, ok := s.devBypass.principal(); ok {
			return p, string(principal.SourceDevBypass), nil
		}
		return nil, "none", autherr.ErrNoCredential
	}

	if s.classifier.LooksExternal(raw) {
		p, err := s.authenticateExternal(c, raw)
		return p, string(principal.SourceExternal), err
	}

	if s.localTokens == nil {
		return nil, string(principal.SourceLocal), autherr.ErrAuthMethodUnavailable
	}
	p, err := s.localTokens.Validate(raw)
	if err != nil {
		return nil, string(principal.SourceLocal), invalidToken(err)
	}
	return p, string(principal.SourceLocal), nil
}

func (s *Server) authenticateExternal(c *gin.Context, raw string) (*principal.Principal, error) {
	if s.external == nil {
		return nil, autherr.ErrAuthMethodUnavailable
	}

	ctx := c.Request.Context()
	p, err := s.external.Validate(ctx, raw)
	if err != nil {
		return nil, invalidToken(err)
	}

	if s.shadow != nil {
		p.UserID = s.shadow.EnsureLocalIdentity(ctx, p)
	} else {
		p.UserID = p.ExternalID
	}
	return p, nil
}

// authenticateAPIKey validates the key, loads its owner and builds an
// api-key principal. Usage is recorded off the request path. Store failures
// are logged and surface as InvalidApiKey.
func (s *Server) authenticateAPIKey(c *gin.Context, raw string) (*principal.Principal, error) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	res, err := s.apiKeyValidator.Validate(ctx, apikeydomain.ValidationRequest{
		RawKey:         raw,
		RequestedOrgID: requestedOrgID(c),
	})
	if err != nil {
		log.Error("api key validation failed", zap.Error(err))
		return nil, autherr.ErrInvalidAPIKey
	}
	if !res.OK {
		return nil, res.Err("")
	}
	key := res.Key

	owner, err := s.authsvc.FindByID(ctx, key.UserID.String())
	if err != nil {
		if !errors.Is(err, authdomain.ErrUserNotFound) {
			log.Error("api key owner lookup failed", zap.String("key_id", key.ID.String()), zap.Error(err))
		}
		return nil, autherr.ErrInvalidAPIKey
	}
	if !owner.IsActive {
		return nil, autherr.ErrInvalidAPIKey
	}

	memberships, err := s.organizationSvc.ListOrganizationsByUser(ctx, owner.ID)
	if err != nil {
		log.Error("api key owner memberships lookup failed", zap.String("key_id", key.ID.String()), zap.Error(err))
		return nil, autherr.ErrInvalidAPIKey
	}
	orgID, orgIDs := memberOrgs(memberships)

	// A bound key is pinned to its org, which the owner must still belong to.
	if bound := key.BoundOrg(); bound != "" {
		if !slices.Contains(orgIDs, bound) {
			return nil, autherr.Denied(autherr.ErrOrgAccessDenied, bound, orgIDs)
		}
		orgID, orgIDs = bound, []string{bound}
	}

	roles := []string(owner.Roles)
	if len(roles) == 0 {
		roles = []string{principal.RoleUser}
	}

	var externalID string
	if owner.ExternalID != nil {
		externalID = *owner.ExternalID
	}

	p := principal.NewBuilder(principal.SourceAPIKey).
		User(owner.ID.String(), externalID, owner.Email, owner.DisplayName).
		Org(orgID, "", "", orgIDs).
		Roles(roles...).
		APIKey(principal.APIKeyGrant{
			ID:               key.ID.String(),
			Scopes:           key.Scopes,
			AllowedWorkflows: key.AllowedWorkflows,
		}).
		Build()

	if s.usageRecorder != nil {
		s.usageRecorder.RecordAsync(key.ID, c.ClientIP())
	}
	return p, nil
}

// memberOrgs returns the default org and every org the memberships grant.
// Memberships arrive default first. Orgs mirrored from the external platform
// are addressed by their external id.
func memberOrgs(items []organizationdomain.OrganizationListResponseItem) (string, []string) {
	ids := make([]string, 0, len(items)*2)
	var primary string
	for _, item := range items {
		id := item.ID
		if item.ExternalID != nil && *item.ExternalID != "" {
			id = *item.ExternalID
			ids = append(ids, item.ID)
		}
		ids = append(ids, id)
		if primary == "" {
			primary = id
		}
	}
	return primary, ids
}

// applyRequestedOrg switches the effective org to the one named by the
// request header when the principal may access it.
func (s *Server) applyRequestedOrg(c *gin.Context, p *principal.Principal) (*principal.Principal, error) {
	requested := requestedOrgID(c)
	if requested == "" || requested == p.OrgID {
		return p, nil
	}
	if !p.CanAccessOrg(requested) {
		return nil, autherr.Denied(autherr.ErrOrgAccessDenied, requested, p.OrgIDs)
	}
	return p.WithOrg(requested), nil
}

func (s *Server) attachPrincipal(c *gin.Context, p *principal.Principal) {
	ctx := principal.WithPrincipal(c.Request.Context(), p)
	if p.OrgID != "" {
		ctx = orgcontext.WithOrgID(ctx, p.OrgID)
		ctx = obscontext.WithOrgID(ctx, p.OrgID)
	}

	actorID := p.UserID
	if p.APIKey != nil {
		actorID = p.APIKey.ID
	}
	ctx = obscontext.WithActor(ctx, string(p.Source), actorID)

	c.Request = c.Request.WithContext(ctx)
}

// extractAPIKey checks X-API-Key first, then a bearer token carrying a
// recognized key prefix.
func extractAPIKey(c *gin.Context) (string, bool) {
	if raw := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); raw != "" {
		return raw, true
	}
	if raw := bearerToken(c); apikeydomain.LooksLikeAPIKey(raw) {
		return raw, true
	}
	return "", false
}

// invalidToken folds every token failure into InvalidOrExpiredToken while
// keeping the cause for development detail.
func invalidToken(err error) error {
	if errors.Is(err, autherr.ErrInvalidOrExpiredToken) {
		return err
	}
	return fmt.Errorf("%w: %w", autherr.ErrInvalidOrExpiredToken, err)
}
