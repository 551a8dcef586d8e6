package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/auth/scope"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const rateLimitWindow = time.Hour

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   apikeydomain.Repository
	Config config.Config
	Clock  clock.Clock
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	repo             apikeydomain.Repository
	genID            *snowflake.Node
	clock            clock.Clock
	defaultRateLimit int
}

func New(p Params) apikeydomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	defaultRateLimit := p.Config.APIKey.DefaultRateLimit
	if defaultRateLimit <= 0 {
		defaultRateLimit = 1000
	}
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("apikey.service"),
		repo:             p.Repo,
		genID:            p.GenID,
		clock:            clk,
		defaultRateLimit: defaultRateLimit,
	}
}

func (s *Service) List(ctx context.Context) ([]apikeydomain.Response, error) {
	owner, _, err := s.ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListByUser(ctx, s.db, owner)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*apikeydomain.Response, error) {
	key, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(key)
	return &resp, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	owner, caller, err := s.ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	scopes := scope.Normalize(req.Scopes)
	if err := scope.Validate(scopes); err != nil {
		return nil, apikeydomain.ErrInvalidScopes
	}

	rateLimit := req.RateLimit
	switch {
	case rateLimit < 0:
		return nil, apikeydomain.ErrInvalidRateLimit
	case rateLimit == 0:
		rateLimit = s.defaultRateLimit
	}

	now := s.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, apikeydomain.ErrInvalidExpiry
	}

	orgID := strings.TrimSpace(req.OrgID)
	switch {
	case orgID == "":
		orgID = caller.OrgID
	case !caller.CanAccessOrg(orgID):
		return nil, autherr.Denied(autherr.ErrOrgAccessDenied, orgID, caller.OrgIDs)
	}

	raw, hash, prefix, err := apikeydomain.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	reset := now.Add(rateLimitWindow)
	key := &apikeydomain.APIKey{
		ID:               s.genID.Generate(),
		UserID:           owner,
		OrgID:            optionalString(orgID),
		Name:             name,
		Description:      strings.TrimSpace(req.Description),
		KeyHash:          hash,
		KeyPrefix:        prefix,
		Scopes:           scopes,
		AllowedWorkflows: compact(req.AllowedWorkflows),
		RateLimit:        rateLimit,
		RateLimitReset:   &reset,
		ExpiresAt:        req.ExpiresAt,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.log.Info("api key created",
		zap.String("key_id", key.ID.String()),
		zap.String("key_prefix", key.KeyPrefix),
		zap.Strings("scopes", scopes),
	)

	return &apikeydomain.SecretResponse{Response: toResponse(key), Key: raw}, nil
}

// Regenerate swaps the secret in place and starts a fresh window. The old
// key stops working immediately.
func (s *Service) Regenerate(ctx context.Context, id string) (*apikeydomain.SecretResponse, error) {
	key, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, hash, prefix, err := apikeydomain.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	reset := now.Add(rateLimitWindow)
	fields := map[string]any{
		"key_hash":         hash,
		"key_prefix":       prefix,
		"rate_limit_used":  0,
		"rate_limit_reset": reset,
		"usage_count":      0,
		"updated_at":       now,
	}
	if err := s.repo.UpdateFields(ctx, s.db, key.UserID, key.ID, fields); err != nil {
		return nil, err
	}

	key.KeyHash = hash
	key.KeyPrefix = prefix
	key.RateLimitUsed = 0
	key.RateLimitReset = &reset
	key.UsageCount = 0
	key.UpdatedAt = now

	s.log.Info("api key regenerated", zap.String("key_id", key.ID.String()))
	return &apikeydomain.SecretResponse{Response: toResponse(key), Key: raw}, nil
}

func (s *Service) Revoke(ctx context.Context, id string) error {
	key, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"is_active":  false,
		"updated_at": s.clock.Now(),
	}
	if err := s.repo.UpdateFields(ctx, s.db, key.UserID, key.ID, fields); err != nil {
		return err
	}
	s.log.Info("api key revoked", zap.String("key_id", key.ID.String()))
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	owner, _, err := s.ownerFromContext(ctx)
	if err != nil {
		return err
	}
	keyID, err := parseKeyID(id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, s.db, owner, keyID); err != nil {
		return err
	}
	s.log.Info("api key deleted", zap.String("key_id", keyID.String()))
	return nil
}

func (s *Service) find(ctx context.Context, id string) (*apikeydomain.APIKey, error) {
	owner, _, err := s.ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	keyID, err := parseKeyID(id)
	if err != nil {
		return nil, err
	}

	key, err := s.repo.FindByID(ctx, s.db, owner, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apikeydomain.ErrNotFound
	}
	return key, nil
}

// ownerFromContext returns the local user id of the calling principal.
func (s *Service) ownerFromContext(ctx context.Context) (snowflake.ID, *principal.Principal, error) {
	p, ok := principal.FromContext(ctx)
	if !ok || p == nil {
		return 0, nil, apikeydomain.ErrInvalidOwner
	}
	owner, err := snowflake.ParseString(strings.TrimSpace(p.UserID))
	if err != nil || owner == 0 {
		return 0, nil, apikeydomain.ErrInvalidOwner
	}
	return owner, p, nil
}

func parseKeyID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, apikeydomain.ErrInvalidKeyID
	}
	return parsed, nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		ID:               key.ID.String(),
		Name:             key.Name,
		Description:      key.Description,
		KeyPrefix:        key.KeyPrefix,
		OrgID:            key.OrgID,
		Scopes:           nonNil(key.Scopes),
		AllowedWorkflows: nonNil(key.AllowedWorkflows),
		RateLimit:        key.RateLimit,
		RateLimitUsed:    key.RateLimitUsed,
		RateLimitReset:   key.RateLimitReset,
		UsageCount:       key.UsageCount,
		LastUsedAt:       key.LastUsedAt,
		LastUsedIP:       key.LastUsedIP,
		ExpiresAt:        key.ExpiresAt,
		IsActive:         key.IsActive,
		CreatedAt:        key.CreatedAt,
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
