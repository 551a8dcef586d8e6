// Package domain contains persistence models for the org service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization represents a tenant. ExternalID is set for organizations
// mirrored from the external identity provider.
type Organization struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID *string      `gorm:"column:external_id;type:text;uniqueIndex:ux_organizations_external_id" json:"external_id,omitempty"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	Slug       string       `gorm:"type:text;not null" json:"slug"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// OrganizationMember represents membership of a user in an organization.
// At most one membership per user is the default.
type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:2" json:"user_id"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	IsDefault bool         `gorm:"column:is_default;not null;default:false" json:"is_default"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }
