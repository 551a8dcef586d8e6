package token

import (
	"context"
	"crypto"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/principal"
)

// KeyResolver finds the public key for a kid. It is satisfied by *jwks.Resolver.
type KeyResolver interface {
	ResolveSigningKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// ExternalConfig describes the external identity provider's tokens.
type ExternalConfig struct {
	Issuer    string
	Audience  string
	AppID     string
	ClockSkew time.Duration
}

// ExternalValidator verifies RS-signed tokens from the external provider.
type ExternalValidator struct {
	keys     KeyResolver
	issuer   string
	audience string
	appID    string
	roles    *RoleMapper
	sources  []RoleSource
	parser   *jwt.Parser
}

func NewExternalValidator(cfg ExternalConfig, keys KeyResolver, roles *RoleMapper, clk clock.Clock) *ExternalValidator {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clk.Now),
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}
	return &ExternalValidator{
		keys:     keys,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		appID:    strings.TrimSpace(cfg.AppID),
		roles:    roles,
		sources:  DefaultRoleSources,
		parser:   jwt.NewParser(opts...),
	}
}

// checkAddressing rejects tokens issued by or for someone else, whatever
// their signature.
func (v *ExternalValidator) checkAddressing(raw string) error {
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(raw, claims); err != nil {
		return invalid(err)
	}
	if v.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != v.issuer {
			return invalid(jwt.ErrTokenInvalidIssuer)
		}
	}
	if v.audience != "" {
		if aud, _ := claims.GetAudience(); !slices.Contains(aud, v.audience) {
			return invalid(jwt.ErrTokenInvalidAudience)
		}
	}
	return nil
}

// Validate verifies raw and maps its claims to an external principal.
// Issuer and audience are checked before any signing key is looked up.
func (v *ExternalValidator) Validate(ctx context.Context, raw string) (*principal.Principal, error) {
	raw = strings.TrimSpace(raw)
	if err := v.checkAddressing(raw); err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	var resolveErr error
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.ResolveSigningKey(ctx, kid)
		if err != nil {
			resolveErr = err
			return nil, err
		}
		return key, nil
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	if err != nil {
		return nil, invalid(err)
	}

	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return nil, invalid(errors.New("missing subject"))
	}

	rawRoles, _ := ExtractRoles(claims, v.appID, v.sources)
	roles := v.roles.MapAll(rawRoles)
	if len(roles) == 0 {
		roles = []string{principal.RoleUser}
	}

	orgRole := stringClaim(claims, "org_role")
	if orgRole != "" {
		orgRole = v.roles.Map(orgRole)
	} else {
		orgRole = roles[0]
	}

	name := stringClaim(claims, "name", "preferred_username")
	b := principal.NewBuilder(principal.SourceExternal).
		User("", sub, stringClaim(claims, "email"), name).
		Roles(roles...).
		Permissions(ExtractPermissions(claims, v.appID)...)

	if orgID := stringClaim(claims, "org_id", "organization_id", "tenant_id"); orgID != "" {
		b.Org(orgID, stringClaim(claims, "org_name", "organization_name"), orgRole, stringList(claims["org_ids"]))
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		b.ExpiresAt(exp.Time)
	}
	return b.Build(), nil
}

// IsKeyError reports whether err came from key resolution rather than from
// the token itself.
func IsKeyError(err error) bool {
	return errors.Is(err, autherr.ErrSigningKeyNotFound) ||
		errors.Is(err, autherr.ErrUnsupportedKeyType) ||
		errors.Is(err, autherr.ErrJWKSFetchFailed)
}
