package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/kovra/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Get(ctx context.Context, id string) (*Response, error)
	Delete(ctx context.Context, id string) error
}

type ListRequest struct {
	Type string `form:"type"`
	pagination.Pagination
}

type CreateRequest struct {
	Name   string         `json:"name"`
	Type   ResourceType   `json:"type"`
	Config map[string]any `json:"config"`
}

type Response struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	Type           ResourceType   `json:"type"`
	Config         map[string]any `json:"config"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type ListResponse struct {
	Resources []Response          `json:"resources"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidType         = errors.New("invalid_resource_type")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrNotFound            = errors.New("not_found")
)
