package token

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://tah.example.com"
	testAudience = "kovra-api"
	testAppID    = "kovra"
)

type staticKeys map[string]crypto.PublicKey

func (s staticKeys) ResolveSigningKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", autherr.ErrSigningKeyNotFound, kid)
	}
	return key, nil
}

type externalFixture struct {
	key       *rsa.PrivateKey
	validator *ExternalValidator
}

func newExternalFixture(t *testing.T, overrides map[string]string) *externalFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var mapper *RoleMapper
	if overrides != nil {
		mapper = NewRoleMapper(func() map[string]string { return overrides })
	}
	validator := NewExternalValidator(ExternalConfig{
		Issuer:    testIssuer,
		Audience:  testAudience,
		AppID:     testAppID,
		ClockSkew: 30 * time.Second,
	}, staticKeys{"k1": &key.PublicKey}, mapper, nil)

	return &externalFixture{key: key, validator: validator}
}

func (f *externalFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	base := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "ext-123",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	for k, v := range claims {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, base)
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return raw
}

func TestExternalValidatorMapsPortugueseRole(t *testing.T) {
	f := newExternalFixture(t, nil)
	raw := f.sign(t, jwt.MapClaims{
		"role":   "gestor",
		"email":  "joao@example.com",
		"org_id": "tenant-1",
	})

	p, err := f.validator.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, principal.SourceExternal, p.Source)
	assert.Equal(t, "ext-123", p.ExternalID)
	assert.Equal(t, []string{principal.RoleAdmin}, p.Roles)
	assert.Equal(t, "tenant-1", p.OrgID)
	assert.Equal(t, []string{"tenant-1"}, p.OrgIDs)
	assert.Equal(t, principal.RoleAdmin, p.OrgRole)
	assert.Empty(t, p.Permissions)
}

func TestExternalValidatorRoleSourcePriority(t *testing.T) {
	f := newExternalFixture(t, nil)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   []string
	}{
		{
			name: "app roles beat top-level",
			claims: jwt.MapClaims{
				"apps":  map[string]any{testAppID: map[string]any{"roles": []any{"desenvolvedor"}}},
				"roles": []any{"viewer"},
			},
			want: []string{principal.RoleDeveloper},
		},
		{
			name: "app role string",
			claims: jwt.MapClaims{
				"apps": map[string]any{testAppID: map[string]any{"role": "proprietário"}},
			},
			want: []string{principal.RoleOwner},
		},
		{
			name:   "perfis list",
			claims: jwt.MapClaims{"perfis": []any{"visualizador", "administrador"}},
			want:   []string{principal.RoleViewer, principal.RoleAdmin},
		},
		{
			name:   "keycloak realm roles",
			claims: jwt.MapClaims{"realm_access": map[string]any{"roles": []any{"manager"}}},
			want:   []string{principal.RoleAdmin},
		},
		{
			name:   "unmapped role is upper-cased",
			claims: jwt.MapClaims{"groups": []any{"auditor"}},
			want:   []string{"AUDITOR"},
		},
		{
			name:   "no roles defaults to user",
			claims: jwt.MapClaims{},
			want:   []string{principal.RoleUser},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.validator.Validate(context.Background(), f.sign(t, tt.claims))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Roles)
		})
	}
}

func TestExternalValidatorPermissions(t *testing.T) {
	f := newExternalFixture(t, nil)

	p, err := f.validator.Validate(context.Background(), f.sign(t, jwt.MapClaims{
		"apps": map[string]any{testAppID: map[string]any{"permissions": []any{"workflows:read"}}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"workflows:read"}, p.Permissions)

	p, err = f.validator.Validate(context.Background(), f.sign(t, jwt.MapClaims{
		"permissions": []any{"*"},
		"apps":        map[string]any{testAppID: map[string]any{"permissions": []any{"workflows:read"}}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, p.Permissions)
}

func TestExternalValidatorRoleOverrides(t *testing.T) {
	f := newExternalFixture(t, map[string]string{"coordenador": principal.RoleDeveloper})

	p, err := f.validator.Validate(context.Background(), f.sign(t, jwt.MapClaims{"role": "Coordenador"}))
	require.NoError(t, err)
	assert.Equal(t, []string{principal.RoleDeveloper}, p.Roles)
}

func TestExternalValidatorRejects(t *testing.T) {
	f := newExternalFixture(t, nil)

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{name: "wrong issuer", claims: jwt.MapClaims{"iss": "https://evil.example.com"}},
		{name: "wrong audience", claims: jwt.MapClaims{"aud": "someone-else"}},
		{name: "expired beyond skew", claims: jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}},
		{name: "missing exp", claims: jwt.MapClaims{"exp": nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.validator.Validate(context.Background(), f.sign(t, tt.claims))
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

type countingKeys struct {
	staticKeys
	calls int
}

func (c *countingKeys) ResolveSigningKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	c.calls++
	return c.staticKeys.ResolveSigningKey(ctx, kid)
}

func TestExternalValidatorChecksAddressingBeforeKeys(t *testing.T) {
	f := newExternalFixture(t, nil)
	keys := &countingKeys{staticKeys: staticKeys{"k1": &f.key.PublicKey}}
	v := NewExternalValidator(ExternalConfig{
		Issuer:   testIssuer,
		Audience: testAudience,
	}, keys, nil, nil)

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{name: "wrong issuer", claims: jwt.MapClaims{"iss": "https://evil.example.com"}},
		{name: "wrong audience", claims: jwt.MapClaims{"aud": []string{"a", "b"}}},
		{name: "missing issuer", claims: jwt.MapClaims{"iss": nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := jwt.MapClaims{
				"iss": testIssuer,
				"aud": testAudience,
				"sub": "x",
				"exp": time.Now().Add(time.Hour).Unix(),
			}
			for k, val := range tt.claims {
				if val == nil {
					delete(claims, k)
					continue
				}
				claims[k] = val
			}
			tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
			tok.Header["kid"] = "rotated"
			raw, err := tok.SignedString(f.key)
			require.NoError(t, err)

			_, err = v.Validate(context.Background(), raw)
			require.ErrorIs(t, err, ErrInvalidToken)
			assert.NotErrorIs(t, err, autherr.ErrSigningKeyNotFound)
		})
	}
	assert.Zero(t, keys.calls)
}

func TestExternalValidatorAcceptsWithinSkew(t *testing.T) {
	f := newExternalFixture(t, nil)
	_, err := f.validator.Validate(context.Background(), f.sign(t, jwt.MapClaims{
		"exp": time.Now().Add(-10 * time.Second).Unix(),
	}))
	require.NoError(t, err)
}

func TestExternalValidatorUnknownKid(t *testing.T) {
	f := newExternalFixture(t, nil)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "rotated"
	raw, err := tok.SignedString(f.key)
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), raw)
	require.ErrorIs(t, err, autherr.ErrSigningKeyNotFound)
	assert.True(t, IsKeyError(err))
}

func TestExternalValidatorRejectsHMAC(t *testing.T) {
	f := newExternalFixture(t, nil)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}
