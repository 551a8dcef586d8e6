package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	"github.com/smallbiznis/kovra/internal/apikey/repository"
	"github.com/smallbiznis/kovra/internal/auth/autherr"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	svc   apikeydomain.Service
	repo  apikeydomain.Repository
	clock *clock.FakeClock
	ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&apikeydomain.APIKey{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	svc := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repo,
		Config: config.Config{APIKey: config.APIKeyConfig{DefaultRateLimit: 250}},
		Clock:  clk,
	})

	owner := principal.NewBuilder(principal.SourceLocal).
		User(node.Generate().String(), "", "owner@example.com", "Owner").
		Org("1001", "", principal.RoleOwner, nil).
		Roles(principal.RoleOwner).
		Build()

	return &testEnv{
		svc:   svc,
		repo:  repo,
		clock: clk,
		ctx:   principal.WithPrincipal(context.Background(), owner),
	}
}

func TestCreateReturnsSecretOnce(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.svc.Create(env.ctx, apikeydomain.CreateRequest{
		Name:   " CI pipeline ",
		Scopes: []string{"Workflows:Execute", "workflows:execute"},
	})
	require.NoError(t, err)
	assert.Equal(t, "CI pipeline", created.Name)
	assert.Equal(t, []string{"workflows:execute"}, created.Scopes)
	assert.Equal(t, 250, created.RateLimit)
	assert.True(t, created.IsActive)
	require.NotNil(t, created.OrgID)
	assert.Equal(t, "1001", *created.OrgID)
	assert.True(t, apikeydomain.LooksLikeAPIKey(created.Key))
	assert.Equal(t, apikeydomain.DisplayPrefix(created.Key), created.KeyPrefix)

	listed, err := env.svc.List(env.ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	past := env.clock.Now().Add(-time.Minute)

	tests := []struct {
		name string
		req  apikeydomain.CreateRequest
		want error
	}{
		{name: "blank name", req: apikeydomain.CreateRequest{Name: "  "}, want: apikeydomain.ErrInvalidName},
		{name: "bad scope", req: apikeydomain.CreateRequest{Name: "k", Scopes: []string{"everything"}}, want: apikeydomain.ErrInvalidScopes},
		{name: "negative limit", req: apikeydomain.CreateRequest{Name: "k", RateLimit: -1}, want: apikeydomain.ErrInvalidRateLimit},
		{name: "past expiry", req: apikeydomain.CreateRequest{Name: "k", ExpiresAt: &past}, want: apikeydomain.ErrInvalidExpiry},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Create(env.ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateBindsOnlyAccessibleOrgs(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.svc.Create(env.ctx, apikeydomain.CreateRequest{Name: "own", OrgID: "1001"})
	require.NoError(t, err)
	require.NotNil(t, created.OrgID)
	assert.Equal(t, "1001", *created.OrgID)

	_, err = env.svc.Create(env.ctx, apikeydomain.CreateRequest{Name: "foreign", OrgID: "2002"})
	require.ErrorIs(t, err, autherr.ErrOrgAccessDenied)

	listed, err := env.svc.List(env.ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCreateRequiresPrincipal(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Create(context.Background(), apikeydomain.CreateRequest{Name: "k"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidOwner)
}

func TestRegenerateReplacesSecret(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.svc.Create(env.ctx, apikeydomain.CreateRequest{Name: "k"})
	require.NoError(t, err)

	regenerated, err := env.svc.Regenerate(env.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, regenerated.ID)
	assert.NotEqual(t, created.Key, regenerated.Key)
	assert.Equal(t, 0, regenerated.RateLimitUsed)
	assert.Equal(t, int64(0), regenerated.UsageCount)
}

func TestRevokeAndDelete(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.svc.Create(env.ctx, apikeydomain.CreateRequest{Name: "k"})
	require.NoError(t, err)

	require.NoError(t, env.svc.Revoke(env.ctx, created.ID))
	got, err := env.svc.Get(env.ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	require.NoError(t, env.svc.Delete(env.ctx, created.ID))
	_, err = env.svc.Get(env.ctx, created.ID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)

	err = env.svc.Delete(env.ctx, created.ID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)

	_, err = env.svc.Get(env.ctx, "not-a-number")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKeyID)
}
