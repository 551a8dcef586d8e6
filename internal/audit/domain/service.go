package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/kovra/pkg/db/pagination"
)

// Entry describes an event to record. Actor and org default to the
// principal in the context.
type Entry struct {
	Action     string
	TargetType string
	TargetID   string
	OrgID      string
	ActorType  string
	ActorID    string
	IPAddress  string
	UserAgent  string
	Metadata   map[string]any
}

type ListRequest struct {
	pagination.Pagination
	Action     string     `form:"action"`
	TargetType string     `form:"target_type"`
	TargetID   string     `form:"target_id"`
	ActorType  string     `form:"actor_type"`
	StartAt    *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt      *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListResponse struct {
	AuditLogs []AuditLog          `json:"audit_logs"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidAction       = errors.New("invalid_action")
)
