package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ResourceType string

const (
	ResourceTypeAPI       ResourceType = "api"
	ResourceTypeDatabase  ResourceType = "database"
	ResourceTypeMessaging ResourceType = "messaging"
	ResourceTypeVector    ResourceType = "vector"
)

// Resource is an outbound integration registered for an organization.
type Resource struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	OrgID     string            `gorm:"column:org_id;type:text;not null;index:ix_resources_org"`
	Name      string            `gorm:"type:text;not null"`
	Type      ResourceType      `gorm:"column:type;type:text;not null"`
	Config    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedBy string            `gorm:"column:created_by;type:text;not null;default:''"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Resource) TableName() string { return "resources" }
