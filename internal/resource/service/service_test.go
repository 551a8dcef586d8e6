package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kovra/internal/orgcontext"
	"github.com/smallbiznis/kovra/internal/resource/domain"
	"github.com/smallbiznis/kovra/internal/resource/repository"
	"github.com/smallbiznis/kovra/pkg/db"
	"github.com/smallbiznis/kovra/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Resource{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	svc := New(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()})
	return svc, conn, node
}

func TestCreateRequiresOrganization(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), domain.CreateRequest{Name: "crm", Type: domain.ResourceTypeAPI})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestCreateValidatesType(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgcontext.WithOrgID(context.Background(), "org-a")

	_, err := svc.Create(ctx, domain.CreateRequest{Name: "crm", Type: "ftp"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)

	created, err := svc.Create(ctx, domain.CreateRequest{Name: " crm ", Type: "API"})
	require.NoError(t, err)
	assert.Equal(t, "crm", created.Name)
	assert.Equal(t, domain.ResourceTypeAPI, created.Type)
	assert.Equal(t, "org-a", created.OrganizationID)
}

func TestListPaginatesWithinOrganization(t *testing.T) {
	svc, conn, node := newTestService(t)
	repo := repository.Provide()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(context.Background(), conn, &domain.Resource{
			ID:        node.Generate(),
			OrgID:     "org-a",
			Name:      "db",
			Type:      domain.ResourceTypeDatabase,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base,
		}))
	}
	require.NoError(t, repo.Create(context.Background(), conn, &domain.Resource{
		ID:        node.Generate(),
		OrgID:     "org-b",
		Name:      "other",
		Type:      domain.ResourceTypeAPI,
		CreatedAt: base,
		UpdatedAt: base,
	}))

	ctx := orgcontext.WithOrgID(context.Background(), "org-a")
	first, err := svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Resources, 2)
	assert.True(t, first.PageInfo.HasMore)
	assert.True(t, first.Resources[0].CreatedAt.After(first.Resources[1].CreatedAt))

	second, err := svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{
		PageSize:  2,
		PageToken: first.PageInfo.NextPageToken,
	}})
	require.NoError(t, err)
	require.Len(t, second.Resources, 1)
	assert.False(t, second.PageInfo.HasMore)

	_, err = svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageToken: "garbage"}})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestDeleteIsScopedToOrganization(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctxA := orgcontext.WithOrgID(context.Background(), "org-a")
	ctxB := orgcontext.WithOrgID(context.Background(), "org-b")

	created, err := svc.Create(ctxA, domain.CreateRequest{Name: "queue", Type: domain.ResourceTypeMessaging})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctxB, created.ID), domain.ErrNotFound)
	require.NoError(t, svc.Delete(ctxA, created.ID))

	_, err = svc.Get(ctxA, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
