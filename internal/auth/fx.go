package auth

import (
	"crypto"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	"github.com/smallbiznis/kovra/internal/auth/jwks"
	"github.com/smallbiznis/kovra/internal/auth/repository"
	"github.com/smallbiznis/kovra/internal/auth/service"
	"github.com/smallbiznis/kovra/internal/auth/session"
	"github.com/smallbiznis/kovra/internal/auth/shadow"
	"github.com/smallbiznis/kovra/internal/auth/token"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(session.NewManager),
	fx.Provide(provideLocalTokens),
	fx.Provide(provideRoleMapper),
	fx.Provide(provideJWKSResolver),
	fx.Provide(provideExternalValidator),
	fx.Provide(provideClassifier),
	fx.Provide(provideShadowResolver),
)

// provideLocalTokens returns nil when local authentication is disabled.
func provideLocalTokens(cfg config.Config, clk clock.Clock) (*token.LocalTokens, error) {
	if !cfg.Auth.LocalEnabled() {
		return nil, nil
	}
	return token.NewLocalTokens(token.LocalConfig{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.JWTIssuer,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	}, clk)
}

func provideRoleMapper(holder *config.RoleMappingHolder) *token.RoleMapper {
	return token.NewRoleMapper(holder.Get)
}

func provideJWKSResolver(cfg config.Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) (*jwks.Resolver, error) {
	ext := cfg.Auth.External

	var static crypto.PublicKey
	if pem := strings.TrimSpace(ext.PublicKeyPEM); pem != "" {
		key, err := jwks.ParsePublicKeyPEM(pem)
		if err != nil {
			return nil, err
		}
		static = key
	}

	var fetcher jwks.Fetcher
	if url := strings.TrimSpace(ext.JWKSURL); url != "" {
		fetcher = &jwks.HTTPFetcher{
			URL:     url,
			Client:  &http.Client{},
			Timeout: ext.FetchTimeout,
		}
	}

	return jwks.NewResolver(jwks.Options{
		TTL:       ext.JWKSCacheTTL,
		Fetcher:   fetcher,
		Clock:     clk,
		StaticKey: static,
		Logger:    log,
		Observer:  m.RecordJWKSFetch,
	}), nil
}

// provideExternalValidator returns nil when external authentication is disabled.
func provideExternalValidator(cfg config.Config, keys *jwks.Resolver, roles *token.RoleMapper, clk clock.Clock) *token.ExternalValidator {
	if !cfg.Auth.ExternalEnabled() {
		return nil
	}
	ext := cfg.Auth.External
	return token.NewExternalValidator(token.ExternalConfig{
		Issuer:    ext.Issuer,
		Audience:  ext.Audience,
		AppID:     ext.AppID,
		ClockSkew: ext.ClockSkew,
	}, keys, roles, clk)
}

func provideClassifier(cfg config.Config) token.Classifier {
	return token.Classifier{
		Issuer:   cfg.Auth.External.Issuer,
		Audience: cfg.Auth.External.Audience,
	}
}

func provideShadowResolver(
	cfg config.Config,
	users authdomain.Repository,
	orgs orgdomain.Service,
	locker *ratelimit.Locker,
	genID *snowflake.Node,
	clk clock.Clock,
	log *zap.Logger,
) *shadow.Resolver {
	var l shadow.Locker
	if locker != nil {
		l = locker
	}
	return shadow.NewResolver(shadow.Options{
		Config: cfg.Auth.Shadow,
		Users:  users,
		Orgs:   orgs,
		Locker: l,
		GenID:  genID,
		Clock:  clk,
		Logger: log,
	})
}
