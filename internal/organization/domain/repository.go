package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrganizationListItem struct {
	ID         snowflake.ID
	ExternalID *string
	Name       string
	Role       string
	IsDefault  bool
	CreatedAt  time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrganization(ctx context.Context, org *Organization) error
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	FindByExternalID(ctx context.Context, externalID string) (*Organization, error)
	UpsertMember(ctx context.Context, member *OrganizationMember) error
	ClearDefault(ctx context.Context, userID snowflake.ID, keepOrgID snowflake.ID) error
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)
	IsMember(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (bool, error)
}
