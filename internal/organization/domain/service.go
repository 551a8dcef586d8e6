package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	EnsureExternal(ctx context.Context, externalID, name string) (*Organization, error)
	SetMembership(ctx context.Context, orgID, userID snowflake.ID, role string, makeDefault bool) error
}

type CreateOrganizationRequest struct {
	Name string
}

type OrganizationResponse struct {
	ID         string  `json:"id"`
	ExternalID *string `json:"external_id,omitempty"`
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
}

type OrganizationListResponseItem struct {
	ID         string    `json:"id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrNotFound            = errors.New("organization_not_found")
)
