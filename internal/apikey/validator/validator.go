// Package validator decides whether a presented API key may be used for a
// request.
package validator

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/smallbiznis/kovra/internal/apikey/domain"
	"github.com/smallbiznis/kovra/internal/auth/scope"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Window is the length of one rate-limit window.
const Window = time.Hour

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    domain.Repository
	Clock   clock.Clock
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Validator struct {
	db      *gorm.DB
	repo    domain.Repository
	clock   clock.Clock
	strict  bool
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) *Validator {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Validator{
		db:      p.DB,
		repo:    p.Repo,
		clock:   clk,
		strict:  p.Config.APIKey.StrictRateLimit,
		log:     p.Log.Named("apikey.validator"),
		metrics: p.Metrics,
	}
}

// Validate runs the checks in order and stops at the first failure. A
// returned error means the store could not be consulted; rejections are
// reported through the result.
func (v *Validator) Validate(ctx context.Context, req domain.ValidationRequest) (*domain.ValidationResult, error) {
	res, err := v.validate(ctx, req)
	if err == nil && !res.OK {
		v.metrics.RecordAPIKeyRejection(ctx, string(res.Reason))
	}
	return res, err
}

func (v *Validator) validate(ctx context.Context, req domain.ValidationRequest) (*domain.ValidationResult, error) {
	raw := strings.TrimSpace(req.RawKey)
	if raw == "" {
		return reject(domain.ReasonInvalid, nil), nil
	}

	key, err := v.repo.FindByHash(ctx, v.db, domain.HashAPIKey(raw))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return reject(domain.ReasonInvalid, nil), nil
	}
	if !key.IsActive {
		return reject(domain.ReasonInactive, key), nil
	}

	now := v.clock.Now()
	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		return reject(domain.ReasonExpired, key), nil
	}

	if requested := strings.TrimSpace(req.RequestedOrgID); requested != "" {
		if bound := key.BoundOrg(); bound != "" && bound != requested {
			return reject(domain.ReasonOrgMismatch, key), nil
		}
	}

	key, err = v.ensureWindow(ctx, key, now)
	if err != nil {
		return nil, err
	}
	if key.RateLimitUsed >= key.RateLimit {
		return v.rateLimited(key, now), nil
	}

	if required := strings.TrimSpace(req.RequiredScope); required != "" {
		if !scope.Has(key.Scopes, scope.Scope(required)) {
			return reject(domain.ReasonMissingScope, key), nil
		}
	}

	if resourceID := strings.TrimSpace(req.ResourceID); resourceID != "" && len(key.AllowedWorkflows) > 0 {
		if !slices.Contains(key.AllowedWorkflows, resourceID) {
			return reject(domain.ReasonWorkflowNotAllowed, key), nil
		}
	}

	if v.strict {
		ok, err := v.repo.TryConsume(ctx, v.db, key.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return v.rateLimited(key, now), nil
		}
		key.RateLimitUsed++
	}

	return &domain.ValidationResult{OK: true, Key: key}, nil
}

// ensureWindow starts a new window when the current one has elapsed. The
// reset is persisted before the quota check, and a concurrent reset by
// another request is picked up by reloading.
func (v *Validator) ensureWindow(ctx context.Context, key *domain.APIKey, now time.Time) (*domain.APIKey, error) {
	if key.RateLimitReset != nil && now.Before(*key.RateLimitReset) {
		return key, nil
	}

	next := now.Add(Window)
	updated, err := v.repo.ResetWindow(ctx, v.db, key.ID, now, next)
	if err != nil {
		return nil, err
	}
	if updated {
		key.RateLimitUsed = 0
		key.RateLimitReset = &next
		return key, nil
	}

	v.log.Debug("rate limit window reset by concurrent request", zap.String("key_id", key.ID.String()))
	reloaded, err := v.repo.FindByHash(ctx, v.db, key.KeyHash)
	if err != nil {
		return nil, err
	}
	if reloaded == nil {
		return key, nil
	}
	return reloaded, nil
}

func (v *Validator) rateLimited(key *domain.APIKey, now time.Time) *domain.ValidationResult {
	res := reject(domain.ReasonRateLimitExceeded, key)
	res.RateLimited = true
	if key.RateLimitReset != nil {
		res.RetryAfter = key.RateLimitReset.Sub(now)
	}
	if res.RetryAfter < time.Second {
		res.RetryAfter = time.Second
	}
	return res
}

func reject(reason domain.Reason, key *domain.APIKey) *domain.ValidationResult {
	return &domain.ValidationResult{OK: false, Reason: reason, Key: key}
}
