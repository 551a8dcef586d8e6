// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// User is a local identity. Users mirrored from the external identity
// provider carry ExternalID and usually no password.
type User struct {
	ID                  snowflake.ID                `gorm:"primaryKey"`
	Email               string                      `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash        *string                     `gorm:"type:text"`
	ExternalID          *string                     `gorm:"column:external_id;type:text;uniqueIndex"`
	DisplayName         string                      `gorm:"column:display_name;type:text;not null;default:''"`
	Roles               datatypes.JSONSlice[string] `gorm:"column:roles;type:jsonb;not null;default:'[]'"`
	IsActive            bool                        `gorm:"column:is_active;not null;default:true"`
	LastLoginAt         *time.Time                  `gorm:"column:last_login_at"`
	LastPasswordChanged *time.Time                  `gorm:"column:last_password_changed"`
	CreatedAt           time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
