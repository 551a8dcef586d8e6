package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kovra/internal/orgcontext"
	"github.com/smallbiznis/kovra/internal/principal"
	"github.com/smallbiznis/kovra/internal/resource/domain"
	"github.com/smallbiznis/kovra/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("resource.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	orgID, err := orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	limit := req.Limit()
	filter := domain.ListFilter{Limit: limit + 1}
	if raw := strings.TrimSpace(req.Type); raw != "" {
		resourceType, err := normalizeType(domain.ResourceType(raw))
		if err != nil {
			return nil, err
		}
		filter.Type = &resourceType
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		after, err := decodePageToken(token)
		if err != nil {
			return nil, err
		}
		filter.After = after
	}

	items, err := s.repo.List(ctx, s.db, orgID, filter)
	if err != nil {
		return nil, err
	}

	page, info := pagination.BuildCursorPageInfo(items, limit, func(item domain.Resource) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := &domain.ListResponse{
		Resources: make([]domain.Response, 0, len(page)),
		PageInfo:  info,
	}
	for i := range page {
		resp.Resources = append(resp.Resources, toResponse(&page[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	orgID, err := orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	resourceType, err := normalizeType(req.Type)
	if err != nil {
		return nil, err
	}

	var createdBy string
	if p, ok := principal.FromContext(ctx); ok {
		createdBy = p.UserID
		if createdBy == "" {
			createdBy = p.ExternalID
		}
	}

	now := time.Now().UTC()
	record := &domain.Resource{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		Type:      resourceType,
		Config:    datatypes.JSONMap{},
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Config != nil {
		record.Config = datatypes.JSONMap(req.Config)
	}

	if err := s.repo.Create(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.log.Info("resource created",
		zap.String("resource_id", record.ID.String()),
		zap.String("type", string(resourceType)),
	)

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	orgID, err := orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	resourceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindByID(ctx, s.db, orgID, resourceID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, err := orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	resourceID, err := parseID(id)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, s.db, orgID, resourceID)
}

func orgIDFromContext(ctx context.Context) (string, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || strings.TrimSpace(orgID) == "" {
		return "", domain.ErrInvalidOrganization
	}
	return orgID, nil
}

func normalizeType(value domain.ResourceType) (domain.ResourceType, error) {
	switch domain.ResourceType(strings.ToLower(strings.TrimSpace(string(value)))) {
	case domain.ResourceTypeAPI:
		return domain.ResourceTypeAPI, nil
	case domain.ResourceTypeDatabase:
		return domain.ResourceTypeDatabase, nil
	case domain.ResourceTypeMessaging:
		return domain.ResourceTypeMessaging, nil
	case domain.ResourceTypeVector:
		return domain.ResourceTypeVector, nil
	default:
		return "", domain.ErrInvalidType
	}
}

func decodePageToken(token string) (*domain.Cursor, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	return &domain.Cursor{CreatedAt: createdAt, ID: id}, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func toResponse(r *domain.Resource) domain.Response {
	config := map[string]any(r.Config)
	if config == nil {
		config = map[string]any{}
	}
	return domain.Response{
		ID:             r.ID.String(),
		OrganizationID: r.OrgID,
		Name:           r.Name,
		Type:           r.Type,
		Config:         config,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
