package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/kovra/internal/organization/domain"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
}

func NewService(conn *gorm.DB, log *zap.Logger, repo domain.Repository, genID *snowflake.Node) domain.Service {
	return &service{
		db:    conn,
		log:   log.Named("organization.service"),
		repo:  repo,
		genID: genID,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	org := &domain.Organization{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug.Make(name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}
		return s.setMembership(ctx, repo, org.ID, userID, principal.RoleOwner, false)
	})
	if err != nil {
		return nil, err
	}

	return toResponse(org), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return toResponse(org), nil
}

func (s *service) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:         item.ID.String(),
			ExternalID: item.ExternalID,
			Name:       item.Name,
			Role:       item.Role,
			IsDefault:  item.IsDefault,
			CreatedAt:  item.CreatedAt,
		})
	}

	return resp, nil
}

// EnsureExternal finds the organization mirrored from externalID or creates it.
func (s *service) EnsureExternal(ctx context.Context, externalID, name string) (*domain.Organization, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.FindByExternalID(ctx, externalID)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = externalID
	}
	now := time.Now().UTC()
	org = &domain.Organization{
		ID:         s.genID.Generate(),
		ExternalID: &externalID,
		Name:       name,
		Slug:       slug.Make(name),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.repo.FindByExternalID(ctx, externalID)
		}
		return nil, err
	}
	return org, nil
}

// SetMembership upserts the membership. When makeDefault is set, every other
// membership of the user loses its default flag in the same transaction.
func (s *service) SetMembership(ctx context.Context, orgID, userID snowflake.ID, role string, makeDefault bool) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		return domain.ErrInvalidRole
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.setMembership(ctx, s.repo.WithTx(tx), orgID, userID, role, makeDefault)
	})
}

func (s *service) setMembership(ctx context.Context, repo domain.Repository, orgID, userID snowflake.ID, role string, makeDefault bool) error {
	isDefault := makeDefault
	if !isDefault {
		items, err := repo.ListOrganizationsByUser(ctx, userID)
		if err != nil {
			return err
		}
		isDefault = true
		for _, item := range items {
			if item.IsDefault && item.ID != orgID {
				isDefault = false
				break
			}
		}
	}
	if isDefault {
		if err := repo.ClearDefault(ctx, userID, orgID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	return repo.UpsertMember(ctx, &domain.OrganizationMember{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		IsDefault: isDefault,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func toResponse(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:         org.ID.String(),
		ExternalID: org.ExternalID,
		Name:       org.Name,
		Slug:       org.Slug,
	}
}
