package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// APIKey stores a hashed API credential owned by a user. The raw key is
// never persisted.
type APIKey struct {
	ID               snowflake.ID                `gorm:"primaryKey"`
	UserID           snowflake.ID                `gorm:"column:user_id;not null;index"`
	OrgID            *string                     `gorm:"column:org_id;type:text"`
	Name             string                      `gorm:"type:text;not null"`
	Description      string                      `gorm:"type:text;not null;default:''"`
	KeyHash          string                      `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	KeyPrefix        string                      `gorm:"column:key_prefix;type:text;not null"`
	Scopes           datatypes.JSONSlice[string] `gorm:"column:scopes;type:jsonb;not null;default:'[]'"`
	AllowedWorkflows datatypes.JSONSlice[string] `gorm:"column:allowed_workflows;type:jsonb;not null;default:'[]'"`
	RateLimit        int                         `gorm:"column:rate_limit;not null;default:1000"`
	RateLimitUsed    int                         `gorm:"column:rate_limit_used;not null;default:0"`
	RateLimitReset   *time.Time                  `gorm:"column:rate_limit_reset"`
	UsageCount       int64                       `gorm:"column:usage_count;not null;default:0"`
	LastUsedAt       *time.Time                  `gorm:"column:last_used_at"`
	LastUsedIP       *string                     `gorm:"column:last_used_ip;type:text"`
	ExpiresAt        *time.Time                  `gorm:"column:expires_at"`
	IsActive         bool                        `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// BoundOrg returns the key's organization or "" when unbound.
func (k *APIKey) BoundOrg() string {
	if k == nil || k.OrgID == nil {
		return ""
	}
	return *k.OrgID
}
