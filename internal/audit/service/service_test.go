package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	"github.com/smallbiznis/kovra/internal/audit/repository"
	obscontext "github.com/smallbiznis/kovra/internal/observability/context"
	"github.com/smallbiznis/kovra/internal/orgcontext"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/pkg/db"
	"github.com/smallbiznis/kovra/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	return NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()}), conn
}

func TestRecordRequiresAction(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Record(context.Background(), auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestRecordResolvesActorFromPrincipal(t *testing.T) {
	svc, conn := newTestService(t)

	p := principal.NewBuilder(principal.SourceAPIKey).
		User("101", "", "ana@example.com", "Ana").
		Org("org-a", "", "", nil).
		APIKey(principal.APIKeyGrant{ID: "key-7"}).
		Build()
	ctx := principal.WithPrincipal(context.Background(), p)
	ctx = orgcontext.WithOrgID(ctx, "org-a")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	err := svc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionAPIKeyRotated,
		TargetType: "api_key",
		TargetID:   "key-7",
		IPAddress:  "10.0.0.1",
		Metadata:   map[string]any{"secret_key": "ak_live_abcdefgh", "name": "ci"},
	})
	require.NoError(t, err)

	var stored auditdomain.AuditLog
	require.NoError(t, conn.First(&stored).Error)
	assert.Equal(t, "api-key", stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "key-7", *stored.ActorID)
	require.NotNil(t, stored.OrgID)
	assert.Equal(t, "org-a", *stored.OrgID)
	assert.Equal(t, "ak_live_****efgh", stored.Metadata["secret_key"])
	assert.Equal(t, "ci", stored.Metadata["name"])
	assert.Equal(t, "req-1", stored.Metadata["request_id"])
	assert.Nil(t, stored.UserAgent)
}

func TestRecordWithoutPrincipalIsAnonymous(t *testing.T) {
	svc, conn := newTestService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{
		Action:     auditdomain.ActionLoginFailed,
		TargetType: "user",
		Metadata:   map[string]any{"email": "ana@example.com"},
	}))

	var stored auditdomain.AuditLog
	require.NoError(t, conn.First(&stored).Error)
	assert.Equal(t, "anonymous", stored.ActorType)
	assert.Nil(t, stored.ActorID)
	assert.Nil(t, stored.OrgID)
}

func TestListScopesToOrganizationAndPaginates(t *testing.T) {
	svc, conn := newTestService(t)
	repo := repository.Provide()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	orgA, orgB := "org-a", "org-b"
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(context.Background(), conn, &auditdomain.AuditLog{
			ID:         node.Generate(),
			OrgID:      &orgA,
			ActorType:  "local",
			Action:     auditdomain.ActionLogin,
			TargetType: "user",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Insert(context.Background(), conn, &auditdomain.AuditLog{
		ID:         node.Generate(),
		OrgID:      &orgB,
		ActorType:  "local",
		Action:     auditdomain.ActionLogin,
		TargetType: "user",
		CreatedAt:  base,
	}))

	_, err = svc.List(context.Background(), auditdomain.ListRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)

	ctx := orgcontext.WithOrgID(context.Background(), orgA)
	first, err := svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.PageInfo.HasMore)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[1].CreatedAt))

	second, err := svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{
		PageSize:  2,
		PageToken: first.PageInfo.NextPageToken,
	}})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, orgA, *second.AuditLogs[0].OrgID)

	_, err = svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := orgcontext.WithOrgID(context.Background(), "org-a")
	start := time.Now()
	end := start.Add(-time.Hour)

	_, err := svc.List(ctx, auditdomain.ListRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
