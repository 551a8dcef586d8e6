package validator

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kovra/internal/apikey/domain"
	"github.com/smallbiznis/kovra/internal/apikey/repository"
	"github.com/smallbiznis/kovra/internal/apikey/usage"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db        *gorm.DB
	repo      domain.Repository
	clock     *clock.FakeClock
	node      *snowflake.Node
	validator *Validator
	recorder  *usage.Recorder
}

func newTestEnv(t *testing.T, strict bool) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.APIKey{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	cfg := config.Config{APIKey: config.APIKeyConfig{StrictRateLimit: strict}}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := repository.Provide()

	return &testEnv{
		db:    conn,
		repo:  repo,
		clock: clk,
		node:  node,
		validator: New(Params{
			DB: conn, Repo: repo, Clock: clk, Config: cfg, Log: zap.NewNop(),
		}),
		recorder: usage.New(usage.Params{
			DB: conn, Repo: repo, Clock: clk, Config: cfg, Log: zap.NewNop(),
		}),
	}
}

type keyOption func(*domain.APIKey)

func (e *testEnv) insertKey(t *testing.T, opts ...keyOption) (string, *domain.APIKey) {
	t.Helper()

	raw, hash, prefix, err := domain.GenerateAPIKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	now := e.clock.Now()
	key := &domain.APIKey{
		ID:        e.node.Generate(),
		UserID:    e.node.Generate(),
		Name:      "ci",
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    []string{"workflows:execute"},
		RateLimit: 1000,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(key)
	}
	if err := e.repo.Insert(context.Background(), e.db, key); err != nil {
		t.Fatalf("failed to insert key: %v", err)
	}
	return raw, key
}

func (e *testEnv) reload(t *testing.T, key *domain.APIKey) *domain.APIKey {
	t.Helper()
	got, err := e.repo.FindByID(context.Background(), e.db, key.UserID, key.ID)
	if err != nil {
		t.Fatalf("failed to reload key: %v", err)
	}
	return got
}

func TestValidateAcceptsActiveKey(t *testing.T) {
	env := newTestEnv(t, false)
	raw, key := env.insertKey(t)

	res, err := env.validator.Validate(context.Background(), domain.ValidationRequest{
		RawKey:        raw,
		RequiredScope: "workflows:execute",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, key.ID, res.Key.ID)

	stored := env.reload(t, key)
	require.NotNil(t, stored.RateLimitReset)
	assert.True(t, stored.RateLimitReset.Equal(env.clock.Now().Add(Window)))
	assert.Equal(t, 0, stored.RateLimitUsed)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		opts   []keyOption
		req    domain.ValidationRequest
		reason domain.Reason
	}{
		{
			name:   "unknown key",
			reason: domain.ReasonInvalid,
		},
		{
			name: "expired",
			opts: []keyOption{func(k *domain.APIKey) {
				past := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
				k.ExpiresAt = &past
			}},
			reason: domain.ReasonExpired,
		},
		{
			name: "org mismatch",
			opts: []keyOption{func(k *domain.APIKey) {
				org := "org-a"
				k.OrgID = &org
			}},
			req:    domain.ValidationRequest{RequestedOrgID: "org-b"},
			reason: domain.ReasonOrgMismatch,
		},
		{
			name:   "missing scope",
			req:    domain.ValidationRequest{RequiredScope: "resources:write"},
			reason: domain.ReasonMissingScope,
		},
		{
			name: "workflow not allowed",
			opts: []keyOption{func(k *domain.APIKey) {
				k.AllowedWorkflows = []string{"wf-1"}
			}},
			req:    domain.ValidationRequest{RequiredScope: "workflows:execute", ResourceID: "wf-2"},
			reason: domain.ReasonWorkflowNotAllowed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			raw, _ := env.insertKey(t, tc.opts...)
			if tc.reason == domain.ReasonInvalid {
				raw = domain.KeyPrefix + "doesnotexist"
			}

			req := tc.req
			req.RawKey = raw
			res, err := env.validator.Validate(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, tc.reason, res.Reason)
			assert.False(t, res.RateLimited)
		})
	}
}

func TestValidateInactiveKey(t *testing.T) {
	env := newTestEnv(t, false)
	raw, key := env.insertKey(t)
	// is_active has a column default, so the flag is flipped after insert.
	err := env.repo.UpdateFields(context.Background(), env.db, key.UserID, key.ID, map[string]any{"is_active": false})
	require.NoError(t, err)

	res, err := env.validator.Validate(context.Background(), domain.ValidationRequest{RawKey: raw})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonInactive, res.Reason)
}

func TestValidateAllowsMatchingOrgAndUnboundKeys(t *testing.T) {
	env := newTestEnv(t, false)
	org := "org-a"
	bound, _ := env.insertKey(t, func(k *domain.APIKey) { k.OrgID = &org })
	unbound, _ := env.insertKey(t)

	res, err := env.validator.Validate(context.Background(), domain.ValidationRequest{RawKey: bound, RequestedOrgID: "org-a"})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = env.validator.Validate(context.Background(), domain.ValidationRequest{RawKey: unbound, RequestedOrgID: "org-z"})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestValidateEmptyWorkflowListAllowsAny(t *testing.T) {
	env := newTestEnv(t, false)
	raw, _ := env.insertKey(t)

	res, err := env.validator.Validate(context.Background(), domain.ValidationRequest{
		RawKey:        raw,
		RequiredScope: "workflows:execute",
		ResourceID:    "any-workflow",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestRateLimitWindow(t *testing.T) {
	env := newTestEnv(t, false)
	raw, key := env.insertKey(t, func(k *domain.APIKey) { k.RateLimit = 5 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := env.validator.Validate(ctx, domain.ValidationRequest{RawKey: raw})
		require.NoError(t, err)
		if !res.OK {
			t.Fatalf("request %d rejected: %s", i+1, res.Reason)
		}
		require.NoError(t, env.recorder.Record(ctx, res.Key.ID, "10.0.0.1"))
		env.clock.Advance(time.Second)
	}

	res, err := env.validator.Validate(ctx, domain.ValidationRequest{RawKey: raw})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.RateLimited)
	assert.Equal(t, domain.ReasonRateLimitExceeded, res.Reason)
	assert.Equal(t, Window-5*time.Second, res.RetryAfter)
	assert.Equal(t, 3595, res.RetryAfterSeconds())

	env.clock.Advance(Window)
	res, err = env.validator.Validate(ctx, domain.ValidationRequest{RawKey: raw})
	require.NoError(t, err)
	assert.True(t, res.OK)

	stored := env.reload(t, key)
	assert.Equal(t, 0, stored.RateLimitUsed)
	assert.Equal(t, int64(5), stored.UsageCount)
	require.NotNil(t, stored.LastUsedIP)
	assert.Equal(t, "10.0.0.1", *stored.LastUsedIP)
}

func TestStrictModeConsumesDuringValidation(t *testing.T) {
	env := newTestEnv(t, true)
	raw, key := env.insertKey(t, func(k *domain.APIKey) { k.RateLimit = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := env.validator.Validate(ctx, domain.ValidationRequest{RawKey: raw})
		require.NoError(t, err)
		require.True(t, res.OK)
		require.NoError(t, env.recorder.Record(ctx, res.Key.ID, ""))
	}

	res, err := env.validator.Validate(ctx, domain.ValidationRequest{RawKey: raw})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.RateLimited)

	stored := env.reload(t, key)
	assert.Equal(t, 2, stored.RateLimitUsed)
	assert.Equal(t, int64(2), stored.UsageCount)
}

func TestScopeCheckDoesNotConsumeInStrictMode(t *testing.T) {
	env := newTestEnv(t, true)
	raw, key := env.insertKey(t)

	res, err := env.validator.Validate(context.Background(), domain.ValidationRequest{
		RawKey:        raw,
		RequiredScope: "resources:write",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonMissingScope, res.Reason)
	assert.Equal(t, 0, env.reload(t, key).RateLimitUsed)
}
