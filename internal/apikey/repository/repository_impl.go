package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Create(key).Error
}

// FindByHash returns nil, nil when no key has the hash.
func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Where("key_hash = ?", hash).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apikeydomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, fields map[string]any) error {
	tx := db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return apikeydomain.ErrNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) error {
	tx := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&apikeydomain.APIKey{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return apikeydomain.ErrNotFound
	}
	return nil
}

func (r *repo) ResetWindow(ctx context.Context, db *gorm.DB, id snowflake.ID, now, next time.Time) (bool, error) {
	tx := db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ? AND (rate_limit_reset IS NULL OR rate_limit_reset <= ?)", id, now).
		Updates(map[string]any{
			"rate_limit_used":  0,
			"rate_limit_reset": next,
			"updated_at":       now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) TryConsume(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	tx := db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ? AND rate_limit_used < rate_limit", id).
		Update("rate_limit_used", gorm.Expr("rate_limit_used + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) RecordUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, ip string, at time.Time, countWindow bool) error {
	fields := map[string]any{
		"usage_count":  gorm.Expr("usage_count + 1"),
		"last_used_at": at,
		"updated_at":   at,
	}
	if ip != "" {
		fields["last_used_ip"] = ip
	}
	if countWindow {
		fields["rate_limit_used"] = gorm.Expr("rate_limit_used + 1")
	}
	return db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ?", id).
		Updates(fields).Error
}
