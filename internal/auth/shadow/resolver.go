// Package shadow mirrors externally authenticated principals into the local
// identity store.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	"github.com/smallbiznis/kovra/internal/clock"
	"github.com/smallbiznis/kovra/internal/config"
	orgdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	lockTTL  = 5 * time.Second
	lockWait = 2 * time.Second
)

// Locker serialises creation of the same external identity across instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

type Resolver struct {
	cfg    config.ShadowConfig
	users  authdomain.Repository
	orgs   orgdomain.Service
	locker Locker
	genID  *snowflake.Node
	clock  clock.Clock
	log    *zap.Logger
}

type Options struct {
	Config config.ShadowConfig
	Users  authdomain.Repository
	Orgs   orgdomain.Service
	Locker Locker
	GenID  *snowflake.Node
	Clock  clock.Clock
	Logger *zap.Logger
}

func NewResolver(opts Options) *Resolver {
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	defaultRole := strings.ToUpper(strings.TrimSpace(opts.Config.DefaultRole))
	if defaultRole == "" {
		opts.Config.DefaultRole = principal.RoleUser
	} else {
		opts.Config.DefaultRole = defaultRole
	}
	return &Resolver{
		cfg:    opts.Config,
		users:  opts.Users,
		orgs:   opts.Orgs,
		locker: opts.Locker,
		genID:  opts.GenID,
		clock:  clk,
		log:    log.Named("auth.shadow"),
	}
}

// EnsureLocalIdentity returns the local user id for an external principal,
// creating or syncing the local row as configured. It never fails: on any
// persistence error the external id is returned.
func (r *Resolver) EnsureLocalIdentity(ctx context.Context, p *principal.Principal) string {
	if p == nil {
		return ""
	}
	if !r.cfg.Enabled {
		return p.ExternalID
	}

	log := r.log.With(zap.String("external_id", p.ExternalID))

	user, err := r.find(ctx, p)
	switch {
	case err == nil:
		if r.cfg.SyncOnLogin {
			r.sync(ctx, log, user, p)
		}
		return user.ID.String()
	case !errors.Is(err, authdomain.ErrUserNotFound):
		log.Error("shadow lookup failed", zap.Error(err))
		return p.ExternalID
	}

	id, err := r.create(ctx, p)
	if err != nil {
		log.Error("shadow create failed", zap.Error(err))
		return p.ExternalID
	}
	return id
}

func (r *Resolver) find(ctx context.Context, p *principal.Principal) (*authdomain.User, error) {
	if p.ExternalID != "" {
		user, err := r.users.FindByExternalID(ctx, p.ExternalID)
		if err == nil || !errors.Is(err, authdomain.ErrUserNotFound) {
			return user, err
		}
	}
	if email := normalizeEmail(p.Email); email != "" {
		return r.users.FindByEmail(ctx, email)
	}
	return nil, authdomain.ErrUserNotFound
}

// sync refreshes the external link, display name and last login. Local
// roles are left untouched.
func (r *Resolver) sync(ctx context.Context, log *zap.Logger, user *authdomain.User, p *principal.Principal) {
	now := r.clock.Now()
	fields := map[string]any{
		"last_login_at": now,
		"updated_at":    now,
	}
	if p.ExternalID != "" && (user.ExternalID == nil || *user.ExternalID != p.ExternalID) {
		fields["external_id"] = p.ExternalID
	}
	if name := strings.TrimSpace(p.Name); name != "" && name != user.DisplayName {
		fields["display_name"] = name
	}
	if err := r.users.UpdateFields(ctx, user.ID, fields); err != nil {
		log.Warn("shadow sync failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	r.ensureMembership(ctx, log, user.ID, p, false)
}

func (r *Resolver) create(ctx context.Context, p *principal.Principal) (string, error) {
	if r.locker != nil && p.ExternalID != "" {
		key := "shadow:" + p.ExternalID
		token, err := r.locker.Acquire(ctx, key, lockTTL, lockWait)
		if err != nil {
			r.log.Warn("shadow lock unavailable, creating without lock", zap.String("key", key), zap.Error(err))
		} else {
			defer func() {
				if err := r.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					r.log.Warn("shadow lock release failed", zap.String("key", key), zap.Error(err))
				}
			}()
			if user, err := r.find(ctx, p); err == nil {
				return user.ID.String(), nil
			}
		}
	}

	email := normalizeEmail(p.Email)
	if email == "" {
		email = fmt.Sprintf("%s@external.invalid", strings.ToLower(p.ExternalID))
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = email
	}

	now := r.clock.Now()
	var externalID *string
	if p.ExternalID != "" {
		ext := p.ExternalID
		externalID = &ext
	}
	user := &authdomain.User{
		ID:          r.genID.Generate(),
		Email:       email,
		ExternalID:  externalID,
		DisplayName: name,
		Roles:       datatypes.JSONSlice[string]{r.cfg.DefaultRole},
		IsActive:    true,
		LastLoginAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.users.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			if existing, findErr := r.find(ctx, p); findErr == nil {
				return existing.ID.String(), nil
			}
		}
		return "", err
	}

	r.ensureMembership(ctx, r.log.With(zap.String("external_id", p.ExternalID)), user.ID, p, true)
	return user.ID.String(), nil
}

func (r *Resolver) ensureMembership(ctx context.Context, log *zap.Logger, userID snowflake.ID, p *principal.Principal, makeDefault bool) {
	if r.orgs == nil || strings.TrimSpace(p.OrgID) == "" {
		return
	}

	org, err := r.orgs.EnsureExternal(ctx, p.OrgID, p.OrgName)
	if err != nil {
		log.Warn("shadow organization sync failed", zap.String("org_id", p.OrgID), zap.Error(err))
		return
	}

	role := p.OrgRole
	if role == "" {
		role = r.cfg.DefaultRole
	}
	if err := r.orgs.SetMembership(ctx, org.ID, userID, role, makeDefault); err != nil {
		log.Warn("shadow membership sync failed", zap.String("org_id", p.OrgID), zap.Error(err))
	}
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
