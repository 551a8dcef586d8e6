package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	"github.com/smallbiznis/kovra/internal/audit/masking"
	obscontext "github.com/smallbiznis/kovra/internal/observability/context"
	"github.com/smallbiznis/kovra/internal/orgcontext"
	"github.com/smallbiznis/kovra/internal/principal"
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
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := resolveActor(ctx, entry)

	payload := masking.MaskSensitive(entry.Metadata)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	record := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      optional(resolveOrgID(ctx, entry.OrgID)),
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		IPAddress:  optional(entry.IPAddress),
		UserAgent:  optional(entry.UserAgent),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &record); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (*auditdomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || strings.TrimSpace(orgID) == "" {
		return nil, auditdomain.ErrInvalidOrganization
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return nil, auditdomain.ErrInvalidTimeRange
	}

	limit := req.Limit()
	filter := auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Limit:      limit + 1,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := decodePageToken(token)
		if err != nil {
			return nil, err
		}
		filter.Cursor = cursor
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	page, info := pagination.BuildCursorPageInfo(items, limit, func(item auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if page == nil {
		page = []auditdomain.AuditLog{}
	}

	return &auditdomain.ListResponse{AuditLogs: page, PageInfo: info}, nil
}

func resolveOrgID(ctx context.Context, explicit string) string {
	if orgID := strings.TrimSpace(explicit); orgID != "" {
		return orgID
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
		return strings.TrimSpace(orgID)
	}
	return ""
}

func resolveActor(ctx context.Context, entry auditdomain.Entry) (string, string) {
	if actorType := strings.TrimSpace(entry.ActorType); actorType != "" {
		return actorType, strings.TrimSpace(entry.ActorID)
	}
	if p, ok := principal.FromContext(ctx); ok {
		if p.Source == principal.SourceAPIKey && p.APIKey != nil {
			return string(p.Source), p.APIKey.ID
		}
		return string(p.Source), p.UserID
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		return actorType, actorID
	}
	return string(auditdomain.ActorTypeAnonymous), ""
}

func decodePageToken(token string) (*auditdomain.AuditCursor, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
