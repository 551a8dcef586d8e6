package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kovra/internal/auth/domain"
	"github.com/smallbiznis/kovra/internal/auth/password"
	"github.com/smallbiznis/kovra/internal/auth/token"
	"github.com/smallbiznis/kovra/internal/clock"
	orgdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const minPasswordLength = 8

type Params struct {
	fx.In

	Log    *zap.Logger
	Repo   domain.Repository
	Orgs   orgdomain.Service
	Tokens *token.LocalTokens `optional:"true"`
	GenID  *snowflake.Node
	Clock  clock.Clock
}

type Service struct {
	log    *zap.Logger
	repo   domain.Repository
	orgs   orgdomain.Service
	tokens *token.LocalTokens
	genID  *snowflake.Node
	clock  clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:    p.Log.Named("auth.service"),
		repo:   p.Repo,
		orgs:   p.Orgs,
		tokens: p.Tokens,
		genID:  p.GenID,
		clock:  clk,
	}
}

func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, domain.ErrInvalidPassword
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	roles := normalizeRoles(req.Roles)
	if len(roles) == 0 {
		roles = []string{principal.RoleUser}
	}

	now := s.clock.Now()
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = defaultDisplayName(email)
	}
	user := &domain.User{
		ID:                  s.genID.Generate(),
		Email:               email,
		PasswordHash:        &hashed,
		DisplayName:         displayName,
		Roles:               datatypes.JSONSlice[string](roles),
		IsActive:            true,
		LastPasswordChanged: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}

	return user, nil
}

// Login verifies email and password and issues a local token pair. Unknown
// email, wrong password, inactive and passwordless users all yield
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	if s.tokens == nil {
		return nil, domain.ErrLocalAuthDisabled
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive || user.PasswordHash == nil || !password.Verify(req.Password, *user.PasswordHash) {
		s.log.Info("login rejected", zap.String("user_id", user.ID.String()))
		return nil, domain.ErrInvalidCredentials
	}

	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, user.ID, map[string]any{
		"last_login_at": now,
		"updated_at":    now,
	}); err != nil {
		s.log.Warn("failed to record last login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	user.LastLoginAt = &now

	return s.issue(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.LoginResult, error) {
	if s.tokens == nil {
		return nil, domain.ErrLocalAuthDisabled
	}

	sub, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, domain.ErrInvalidRefresh
	}
	id, err := snowflake.ParseString(sub)
	if err != nil {
		return nil, domain.ErrInvalidRefresh
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidRefresh
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrInvalidRefresh
	}

	return s.issue(ctx, user)
}

func (s *Service) issue(ctx context.Context, user *domain.User) (*domain.LoginResult, error) {
	roles := []string(user.Roles)
	if len(roles) == 0 {
		roles = []string{principal.RoleUser}
	}

	memberships, err := s.orgs.ListOrganizationsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	var membership *token.Membership
	if len(memberships) > 0 {
		orgIDs := make([]string, 0, len(memberships))
		for _, m := range memberships {
			orgIDs = append(orgIDs, m.ID)
		}
		membership = &token.Membership{
			OrgID:   memberships[0].ID,
			OrgRole: memberships[0].Role,
			OrgIDs:  orgIDs,
		}
	}

	pair, err := s.tokens.Issue(token.Subject{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.DisplayName,
		Roles:  roles,
	}, membership)
	if err != nil {
		return nil, err
	}

	b := principal.NewBuilder(principal.SourceLocal).
		User(user.ID.String(), "", user.Email, user.DisplayName).
		Roles(roles...).
		ExpiresAt(pair.AccessExpiresAt)
	if membership != nil {
		b.Org(membership.OrgID, memberships[0].Name, membership.OrgRole, membership.OrgIDs)
	}

	return &domain.LoginResult{Principal: b.Build(), Tokens: pair}, nil
}

func (s *Service) ChangePassword(ctx context.Context, req domain.ChangePasswordRequest) error {
	if len(strings.TrimSpace(req.NewPassword)) < minPasswordLength {
		return domain.ErrInvalidPassword
	}

	id, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		return domain.ErrUserNotFound
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if user.PasswordHash != nil && !password.Verify(req.CurrentPassword, *user.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	hashed, err := password.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	return s.repo.UpdateFields(ctx, id, map[string]any{
		"password_hash":         hashed,
		"last_password_changed": now,
		"updated_at":            now,
	})
}

func (s *Service) CurrentUser(ctx context.Context) (*domain.User, error) {
	p, ok := principal.FromContext(ctx)
	if !ok || p.UserID == "" {
		return nil, domain.ErrUserNotFound
	}
	return s.FindByID(ctx, p.UserID)
}

func (s *Service) FindByID(ctx context.Context, id string) (*domain.User, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrUserNotFound
	}
	return s.repo.FindByID(ctx, parsed)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func defaultDisplayName(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.TrimSpace(parts[0])
	}
	return email
}

