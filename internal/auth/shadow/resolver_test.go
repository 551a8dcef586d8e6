package shadow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	authrepo "github.com/smallbiznis/kovra/internal/auth/repository"
	"github.com/smallbiznis/kovra/internal/config"
	orgdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	orgrepo "github.com/smallbiznis/kovra/internal/organization/repository"
	orgservice "github.com/smallbiznis/kovra/internal/organization/service"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type fixture struct {
	users authdomain.Repository
	orgs  orgdomain.Service
	genID *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&authdomain.User{}, &orgdomain.Organization{}, &orgdomain.OrganizationMember{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	return &fixture{
		users: authrepo.New(conn),
		orgs:  orgservice.NewService(conn, zap.NewNop(), orgrepo.NewRepository(conn), node),
		genID: node,
	}
}

func (f *fixture) resolver(cfg config.ShadowConfig, locker Locker) *Resolver {
	return NewResolver(Options{
		Config: cfg,
		Users:  f.users,
		Orgs:   f.orgs,
		Locker: locker,
		GenID:  f.genID,
	})
}

func externalPrincipal() *principal.Principal {
	return principal.NewBuilder(principal.SourceExternal).
		User("", "tah-001", "Maria@Example.com", "Maria Silva").
		Org("tenant-9", "Acme Ltda", principal.RoleAdmin, nil).
		Roles(principal.RoleAdmin).
		Build()
}

func TestEnsureLocalIdentityDisabled(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(config.ShadowConfig{Enabled: false}, nil)

	id := r.EnsureLocalIdentity(context.Background(), externalPrincipal())
	assert.Equal(t, "tah-001", id)

	count, err := f.users.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEnsureLocalIdentityCreatesOnceWithMembership(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(config.ShadowConfig{Enabled: true, SyncOnLogin: true, DefaultRole: "viewer"}, nil)
	ctx := context.Background()

	first := r.EnsureLocalIdentity(ctx, externalPrincipal())
	second := r.EnsureLocalIdentity(ctx, externalPrincipal())
	require.Equal(t, first, second)
	require.NotEqual(t, "tah-001", first)

	count, err := f.users.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	user, err := f.users.FindByExternalID(ctx, "tah-001")
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", user.Email)
	assert.Equal(t, "Maria Silva", user.DisplayName)
	assert.Equal(t, []string{principal.RoleViewer}, []string(user.Roles))
	assert.True(t, user.IsActive)
	require.NotNil(t, user.LastLoginAt)

	memberships, err := f.orgs.ListOrganizationsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "Acme Ltda", memberships[0].Name)
	assert.Equal(t, principal.RoleAdmin, memberships[0].Role)
	assert.True(t, memberships[0].IsDefault)
	require.NotNil(t, memberships[0].ExternalID)
	assert.Equal(t, "tenant-9", *memberships[0].ExternalID)
}

func TestEnsureLocalIdentityLinksExistingLocalAccountByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	existing := &authdomain.User{
		ID:          f.genID.Generate(),
		Email:       "maria@example.com",
		DisplayName: "maria",
		Roles:       datatypes.JSONSlice[string]{principal.RoleOwner},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.users.Create(ctx, existing))

	r := f.resolver(config.ShadowConfig{Enabled: true, SyncOnLogin: true}, nil)
	id := r.EnsureLocalIdentity(ctx, externalPrincipal())
	assert.Equal(t, existing.ID.String(), id)

	user, err := f.users.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	require.NotNil(t, user.ExternalID)
	assert.Equal(t, "tah-001", *user.ExternalID)
	assert.Equal(t, "Maria Silva", user.DisplayName)
	assert.Equal(t, []string{principal.RoleOwner}, []string(user.Roles), "local roles are authoritative")
}

func TestEnsureLocalIdentityWithoutSyncLeavesRow(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(config.ShadowConfig{Enabled: true, SyncOnLogin: false}, nil)
	ctx := context.Background()

	id := r.EnsureLocalIdentity(ctx, externalPrincipal())

	p := externalPrincipal()
	p.Name = "Renamed"
	assert.Equal(t, id, r.EnsureLocalIdentity(ctx, p))

	user, err := f.users.FindByExternalID(ctx, "tah-001")
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", user.DisplayName)
}

type failingUsers struct {
	authdomain.Repository
}

func (failingUsers) FindByExternalID(context.Context, string) (*authdomain.User, error) {
	return nil, errors.New("connection refused")
}

func TestEnsureLocalIdentityFallsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(Options{
		Config: config.ShadowConfig{Enabled: true},
		Users:  failingUsers{Repository: f.users},
		Orgs:   f.orgs,
		GenID:  f.genID,
	})

	assert.Equal(t, "tah-001", r.EnsureLocalIdentity(context.Background(), externalPrincipal()))
}

type recordingLocker struct {
	acquired []string
	released []string
	err      error
}

func (l *recordingLocker) Acquire(_ context.Context, key string, _, _ time.Duration) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	l.acquired = append(l.acquired, key)
	return "token-1", nil
}

func (l *recordingLocker) Release(_ context.Context, key, token string) error {
	l.released = append(l.released, key+"/"+token)
	return nil
}

func TestEnsureLocalIdentityHoldsCreationLock(t *testing.T) {
	f := newFixture(t)
	locker := &recordingLocker{}
	r := f.resolver(config.ShadowConfig{Enabled: true}, locker)

	r.EnsureLocalIdentity(context.Background(), externalPrincipal())

	assert.Equal(t, []string{"shadow:tah-001"}, locker.acquired)
	assert.Equal(t, []string{"shadow:tah-001/token-1"}, locker.released)
}

func TestEnsureLocalIdentityProceedsWhenLockFails(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(config.ShadowConfig{Enabled: true}, &recordingLocker{err: errors.New("redis down")})

	id := r.EnsureLocalIdentity(context.Background(), externalPrincipal())
	assert.NotEqual(t, "tah-001", id)
}
