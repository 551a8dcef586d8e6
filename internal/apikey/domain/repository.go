package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*APIKey, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]APIKey, error)
	UpdateFields(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, fields map[string]any) error
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) error

	// ResetWindow zeroes the window counter and sets the next reset, but
	// only while the stored reset is still absent or at or before now.
	ResetWindow(ctx context.Context, db *gorm.DB, id snowflake.ID, now, next time.Time) (bool, error)
	// TryConsume takes one unit of the window quota if any is left.
	TryConsume(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	// RecordUsage bumps usage counters and last-used fields in one statement.
	RecordUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, ip string, at time.Time, countWindow bool) error
}
