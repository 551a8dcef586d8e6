package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Cursor positions a keyset page after the given row.
type Cursor struct {
	CreatedAt time.Time
	ID        snowflake.ID
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, resource *Resource) error
	FindByID(ctx context.Context, db *gorm.DB, orgID string, id snowflake.ID) (*Resource, error)
	List(ctx context.Context, db *gorm.DB, orgID string, filter ListFilter) ([]Resource, error)
	Delete(ctx context.Context, db *gorm.DB, orgID string, id snowflake.ID) error
}

type ListFilter struct {
	Type  *ResourceType
	After *Cursor
	Limit int
}
